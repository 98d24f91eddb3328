package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/lithammer/dedent"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"golang.org/x/sync/errgroup"

	"github.com/mjuhola/sessionguard/config"
	"github.com/mjuhola/sessionguard/internal/api"
	"github.com/mjuhola/sessionguard/internal/auth"
	"github.com/mjuhola/sessionguard/internal/broadcast"
	"github.com/mjuhola/sessionguard/internal/gateway"
	"github.com/mjuhola/sessionguard/internal/idle"
	"github.com/mjuhola/sessionguard/internal/storage"
)

var helpText = dedent.Dedent(`
	commands:
	  login <email> <password>                      sign in
	  register <email> <password> <first> <last>    create an account
	  whoami                                        show the current profile
	  update <field> <value>                        update a profile field
	  extend                                        extend the session (heartbeat)
	  status                                        show session and idle state
	  logout                                        sign out
	  quit                                          exit
`)

func main() {
	zerolog.TimeFieldFormat = zerolog.TimeFormatUnix
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})

	config.LoadEnvFile()

	cfg, err := config.Load()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	store, err := storage.NewSQLiteStore(cfg.DBPath, storage.DeriveKey(cfg.TokenKey))
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open credential store")
	}
	defer store.Close()
	log.Info().Str("dbPath", cfg.DBPath).Msg("credential store opened")

	client := api.NewClient(api.ClientOpts{
		BaseURL: cfg.APIBaseURL,
		Timeout: cfg.HTTPTimeout,
	})

	bus := broadcast.NewBus()
	vault := auth.NewVault(store)
	gw := gateway.New(client, vault, bus)
	manager := auth.NewManager(client, vault, gw, bus)
	defer manager.Close()

	// Create context that cancels on SIGINT or SIGTERM
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := manager.Initialize(ctx); err != nil {
		log.Warn().Err(err).Msg("no session restored")
	}

	monitor := idle.NewMonitor(nil)
	watcher, err := idle.NewWatcher(idle.WatcherConfig{
		Monitor:    monitor,
		Thresholds: cfg.Thresholds,
		Interval:   cfg.TickInterval,
		Heartbeat:  gw.Ping,
		OnExpire: func(ctx context.Context) {
			fmt.Println("\nsession expired due to inactivity, signing out")
			manager.Logout(ctx)
		},
		OnStatus: printStatus(cfg.Thresholds),
	})
	if err != nil {
		log.Fatal().Err(err).Msg("failed to build idle watcher")
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		return watcher.Run(ctx)
	})

	g.Go(func() error {
		defer cancel()
		return commandLoop(ctx, manager, watcher, monitor)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		log.Error().Err(err).Msg("shutdown with error")
	} else {
		log.Info().Msg("shutdown complete")
	}
}

// printStatus renders staged inactivity notices. Warning is a passive
// notice; Critical nags with the remaining time until forced logout.
func printStatus(t idle.Thresholds) func(idle.Status) {
	var lastPhase idle.Phase
	return func(st idle.Status) {
		switch {
		case st.Phase == idle.PhaseWarning && lastPhase != idle.PhaseWarning:
			fmt.Printf("\nyou have been inactive for %s; the session expires in %s\n",
				st.Idle.Round(time.Second), (t.Logout - st.Idle).Round(time.Second))
		case st.Phase == idle.PhaseCritical:
			fmt.Printf("\rsession expires in %-6s type 'extend' to stay signed in ",
				st.Countdown.Round(time.Second))
		}
		lastPhase = st.Phase
	}
}

func commandLoop(ctx context.Context, manager *auth.Manager, watcher *idle.Watcher, monitor *idle.Monitor) error {
	fmt.Print(helpText)

	scanner := bufio.NewScanner(os.Stdin)
	for {
		fmt.Print("> ")
		if !scanner.Scan() {
			return scanner.Err()
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}

		line := strings.TrimSpace(scanner.Text())
		if line == "" {
			continue
		}

		// Every accepted command is user activity.
		monitor.Record()

		fields := strings.Fields(line)
		cmd, args := fields[0], fields[1:]

		switch cmd {
		case "login":
			if len(args) != 2 {
				fmt.Println("usage: login <email> <password>")
				continue
			}
			if err := manager.Login(ctx, args[0], args[1]); err != nil {
				fmt.Printf("login failed: %v\n", err)
				continue
			}
			fmt.Println("signed in")

		case "register":
			if len(args) != 4 {
				fmt.Println("usage: register <email> <password> <first> <last>")
				continue
			}
			req := api.RegisterRequest{
				Email:     args[0],
				Password:  args[1],
				FirstName: args[2],
				LastName:  args[3],
			}
			if err := manager.Register(ctx, req); err != nil {
				fmt.Printf("registration failed: %v\n", err)
				continue
			}
			fmt.Println("account created, signed in")

		case "whoami":
			user, ok := manager.CurrentUser()
			if !ok {
				fmt.Println("not signed in")
				continue
			}
			fmt.Printf("%s %s <%s> role=%s\n", user.FirstName, user.LastName, user.Email, user.Role)

		case "update":
			if len(args) != 2 {
				fmt.Println("usage: update <email|firstName|lastName> <value>")
				continue
			}
			update, err := buildUpdate(args[0], args[1])
			if err != nil {
				fmt.Println(err)
				continue
			}
			user, err := manager.UpdateProfile(ctx, update)
			if err != nil {
				fmt.Printf("update failed: %v\n", err)
				continue
			}
			fmt.Printf("profile updated: %s %s <%s>\n", user.FirstName, user.LastName, user.Email)

		case "extend":
			if err := watcher.Extend(ctx); err != nil {
				fmt.Printf("extend failed: %v\n", err)
				continue
			}
			fmt.Println("session extended")

		case "status":
			st := watcher.Status()
			fmt.Printf("session: %s, idle: %s, phase: %s, countdown: %s\n",
				manager.State(),
				st.Idle.Round(time.Second),
				st.Phase,
				st.Countdown.Round(time.Second))

		case "logout":
			manager.Logout(ctx)
			fmt.Println("signed out")

		case "quit", "exit":
			return nil

		case "help":
			fmt.Print(helpText)

		default:
			fmt.Printf("unknown command %q (try 'help')\n", cmd)
		}
	}
}

func buildUpdate(field, value string) (api.UserUpdate, error) {
	var update api.UserUpdate
	switch field {
	case "email":
		update.Email = &value
	case "firstName":
		update.FirstName = &value
	case "lastName":
		update.LastName = &value
	default:
		return update, fmt.Errorf("unknown field %q (email, firstName, lastName)", field)
	}
	return update, nil
}
