package router

import (
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jonboulle/clockwork"
	"github.com/rs/zerolog"

	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/handler"
	"github.com/stemsi/exstem-session/internal/middleware"
	"github.com/stemsi/exstem-session/internal/repository"
	"github.com/stemsi/exstem-session/internal/service"
)

// App is the fully wired mock backend.
type App struct {
	Engine  *gin.Engine
	Auth    *service.AuthService
	Exams   *service.ExamService
	Proctor *service.ProctorService
	Limiter *middleware.RateLimiter
}

// NewApp builds services, handlers and routes over the given storage.
func NewApp(
	cfg *config.Config,
	fx *service.Fixture,
	answers repository.AnswerRepository,
	bus service.EventBus,
	clock clockwork.Clock,
	log zerolog.Logger,
) (*App, error) {
	authService, err := service.NewAuthService(cfg, fx)
	if err != nil {
		return nil, err
	}
	proctorService := service.NewProctorService(bus, log)
	examService := service.NewExamService(fx, answers, proctorService, clock, log)

	var limiter *middleware.RateLimiter
	if cfg.SavesPerSecond > 0 {
		limiter = middleware.NewRateLimiter(clock, cfg.SavesPerSecond, time.Second)
	}

	handlers := &Handlers{
		Auth:          handler.NewAuthHandler(authService, log),
		StudentPortal: handler.NewStudentPortalHandler(examService),
		WS:            handler.NewWSHandler(examService, proctorService, limiter, log, cfg.AllowedOrigins),
		Monitor:       handler.NewMonitorHandler(examService, proctorService, log),
		System:        handler.NewSystemHandler(examService, log),
	}

	return &App{
		Engine:  SetupRouter(authService, handlers, limiter, cfg),
		Auth:    authService,
		Exams:   examService,
		Proctor: proctorService,
		Limiter: limiter,
	}, nil
}
