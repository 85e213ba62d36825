package main

import (
	"bufio"
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"golang.org/x/term"

	"github.com/stemsi/exstem-session/internal/autosave"
	"github.com/stemsi/exstem-session/internal/client"
	"github.com/stemsi/exstem-session/internal/config"
	"github.com/stemsi/exstem-session/internal/database"
	"github.com/stemsi/exstem-session/internal/logger"
	"github.com/stemsi/exstem-session/internal/session"
)

// keepAliveInterval stays well under the server's read deadline.
const keepAliveInterval = time.Minute

func main() {
	os.Exit(start())
}

// start runs the client and returns the process exit code. Deferred cleanup
// runs before main exits.
func start() int {
	// ─── Load Configuration ────────────────────────────────────────────
	cfg := config.Load()

	// ─── Initialize Logger ─────────────────────────────────────────────
	// Logs go to stderr so they do not interleave with the exam screen.
	log := logger.SetupTo(os.Stderr, cfg.LogLevel, cfg.LogFormat)

	examID, err := uuid.Parse(cfg.ExamID)
	if err != nil {
		fmt.Println("Error: EXAM_ID must be set to a valid exam UUID")
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	api := client.New(cfg.APIBaseURL, cfg.HTTPTimeout, log)
	stdin := bufio.NewReader(os.Stdin)

	// ─── Authenticate ──────────────────────────────────────────────────
	userID := cfg.UserID
	if cfg.AccessToken != "" {
		api.SetToken(cfg.AccessToken)
		if userID <= 0 {
			fmt.Println("Error: USER_ID is required together with ACCESS_TOKEN")
			return 1
		}
	} else {
		userID, err = login(ctx, api, stdin)
		if err != nil {
			fmt.Printf("Login failed: %v\n", err)
			return 1
		}
	}

	// ─── Answer Spool ──────────────────────────────────────────────────
	var spool autosave.Spool = autosave.NewMemorySpool()
	rdb, err := database.OptionalRedis(ctx, cfg.RedisURL, log)
	if err != nil {
		log.Warn().Err(err).Msg("Redis unavailable, spooling answers in memory")
	} else if rdb != nil {
		defer rdb.Close()
		spool = autosave.NewRedisSpool(rdb, examID, userID)
	}

	// ─── Exam Stream ───────────────────────────────────────────────────
	// The stream carries proctor commands. It also carries autosaves when
	// SAVE_TRANSPORT=ws.
	stream, err := client.Dial(ctx, cfg.WSBaseURL, examID, api.Token(), log)
	if err != nil {
		log.Warn().Err(err).Msg("Exam stream unavailable, proctor commands will not arrive")
	}
	if stream != nil {
		defer stream.Close()
	}

	var saver autosave.Saver
	if cfg.SaveTransport == config.TransportWS {
		if stream == nil {
			fmt.Println("Error: SAVE_TRANSPORT=ws but the exam stream could not be opened")
			return 1
		}
		saver = stream
	}

	// ─── Session ───────────────────────────────────────────────────────
	lines := readLines(stdin)
	screen := newTerminal(os.Stdout, lines)
	loggedOut := make(chan struct{})

	ctrl := session.New(session.Config{
		ExamID:            examID,
		UserID:            userID,
		ClockSyncInterval: cfg.ClockSyncInterval,
		Windows: autosave.Windows{
			Discrete: cfg.DebounceDiscrete,
			Text:     cfg.DebounceText,
			Drag:     cfg.DebounceDrag,
		},
		SaveMaxRetries: cfg.SaveMaxRetries,
		SaveRetryBase:  cfg.SaveRetryBase,
	}, session.Deps{
		Backend:   api,
		Saver:     saver,
		Confirmer: screen,
		Notifier:  screen,
		Spool:     spool,
		Hooks: session.Hooks{
			OnTick:    screen.tick,
			OnSettled: screen.settled,
			OnLogout:  func() { close(loggedOut) },
		},
	}, log)
	defer ctrl.Close()

	if err := loadExam(ctx, ctrl, screen); err != nil {
		return 1
	}

	if stream != nil {
		go stream.Forward(ctx, ctrl)
		go stream.KeepAlive(ctx, keepAliveInterval)
	}

	screen.header(ctrl)
	run(ctx, ctrl, stream, screen, lines, loggedOut, log)
	return 0
}

type loader interface {
	Load(ctx context.Context) error
}

// loadExam loads the session, offering a retry after each failure.
func loadExam(ctx context.Context, l loader, t *terminal) error {
	for {
		err := l.Load(ctx)
		if err == nil {
			return nil
		}
		t.printf("Failed to load exam: %v\n", err)
		if ctx.Err() != nil || !t.ask(ctx, "Retry?") {
			return err
		}
	}
}


// login asks for NISN and password and returns the student's user id.
func login(ctx context.Context, api *client.Client, stdin *bufio.Reader) (int, error) {
	fmt.Println("=== ExStem Exam Login ===")

	fmt.Print("NISN: ")
	nisn, _ := stdin.ReadString('\n')
	nisn = strings.TrimSpace(nisn)
	if nisn == "" {
		return 0, fmt.Errorf("NISN is required")
	}

	fmt.Print("Password: ")
	bytePassword, err := term.ReadPassword(int(syscall.Stdin))
	fmt.Println()
	if err != nil {
		return 0, fmt.Errorf("read password: %w", err)
	}

	return api.LoginStudent(ctx, nisn, string(bytePassword))
}

// readLines feeds stdin lines to a channel, closed at EOF.
func readLines(r *bufio.Reader) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		for {
			line, err := r.ReadString('\n')
			if s := strings.TrimSpace(line); s != "" || err == nil {
				out <- s
			}
			if err != nil {
				return
			}
		}
	}()
	return out
}

// run is the command loop. It ends on quit, EOF, interrupt or a proctor
// logout.
func run(
	ctx context.Context,
	ctrl *session.Controller,
	stream *client.Stream,
	t *terminal,
	lines <-chan string,
	loggedOut <-chan struct{},
	log zerolog.Logger,
) {
	for {
		t.prompt()
		select {
		case <-ctx.Done():
			shutdown(ctrl, log)
			return
		case <-loggedOut:
			t.printf("\nYou have been logged out by the proctor.\n")
			return
		case line, ok := <-lines:
			if !ok {
				shutdown(ctrl, log)
				return
			}
			if quit := execute(ctx, ctrl, stream, t, line); quit {
				shutdown(ctrl, log)
				return
			}
		}
	}
}

// shutdown saves what it can before the client exits.
func shutdown(ctrl *session.Controller, log zerolog.Logger) {
	if ctrl.State() != session.StateReady {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := ctrl.SaveAll(ctx); err != nil {
		log.Warn().Err(err).Msg("Some answers were not saved before exit; they stay in the spool")
	}
}
