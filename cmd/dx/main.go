package main

import (
	"bufio"
	"context"
	"crypto/rand"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"digidex/internal/app"
	"digidex/internal/config"
	"digidex/internal/db"
	"digidex/internal/domain"
	"digidex/internal/engine"
	"digidex/internal/engine/auth"
	"digidex/internal/history"
	"digidex/internal/logging"
	"digidex/internal/netstatus"
	"digidex/internal/qrcode"
	"digidex/internal/scanner"
	"digidex/internal/server"
)

var rootCmd = &cobra.Command{
	Use:   "dx",
	Short: "DigiDex CLI",
	Long: `DigiDex exchanges contact details through QR deep links.
- Profile: who you are; other people's codes resolve to their profile.
- QR: a https://<domain>/connect/<payload> link carrying a profile id.
- Scan: parse a code, look up the profile, and offer to send a contact request.
- History: the last 50 scans on this device.
- Queue: scans taken while offline, replayed when connectivity returns.
- Cache: recently parsed payloads, used when a code fails to decode.`,
	SilenceUsage: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		workspace := viper.GetString("workspace")
		if _, err := db.EnsureWorkspace(workspace); err != nil {
			return err
		}
		return nil
	},
}

func main() {
	cobra.OnInitialize(initConfig)
	addPersistentFlags()
	registerCommands()
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "error:", err)
		os.Exit(1)
	}
}

func initConfig() {
	viper.SetEnvPrefix("DIGIDEX")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
	envPath := filepath.Join(viper.GetString("workspace"), ".env")
	if err := godotenv.Load(envPath); err != nil && !errors.Is(err, os.ErrNotExist) {
		fmt.Fprintf(os.Stderr, "warning: read %s: %v\n", envPath, err)
	}
}

func addPersistentFlags() {
	rootCmd.PersistentFlags().StringP("workspace", "w", ".", "workspace directory")
	rootCmd.PersistentFlags().Bool("json", false, "output JSON")
	rootCmd.PersistentFlags().StringP("user", "u", "", "signed-in user id")
	_ = viper.BindPFlag("workspace", rootCmd.PersistentFlags().Lookup("workspace"))
	_ = viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
	_ = viper.BindPFlag("user", rootCmd.PersistentFlags().Lookup("user"))
}

func registerCommands() {
	rootCmd.AddCommand(initCmd())
	rootCmd.AddCommand(profileCmd())
	rootCmd.AddCommand(qrCmd())
	rootCmd.AddCommand(scanCmd())
	rootCmd.AddCommand(batchCmd())
	rootCmd.AddCommand(historyCmd())
	rootCmd.AddCommand(requestsCmd())
	rootCmd.AddCommand(contactsCmd())
	rootCmd.AddCommand(queueCmd())
	rootCmd.AddCommand(cacheCmd())
	rootCmd.AddCommand(logCmd())
	rootCmd.AddCommand(tokenCmd())
	rootCmd.AddCommand(configCmd())
	rootCmd.AddCommand(serveCmd())
}

func initCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "init",
		Short: "Create digidex.yml, the database and a JWT secret in .env",
		RunE: func(cmd *cobra.Command, args []string) error {
			workspace := viper.GetString("workspace")
			path := config.Path(workspace)
			if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
				if err := os.WriteFile(path, []byte(config.GenerateDefault()), 0o644); err != nil {
					return err
				}
				fmt.Println("wrote", path)
			}
			if viper.GetString("jwt-secret") == "" {
				if err := setEnvValue(filepath.Join(workspace, ".env"), "DIGIDEX_JWT_SECRET", rand.Text()); err != nil {
					return err
				}
				fmt.Println("generated DIGIDEX_JWT_SECRET in .env")
			}
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				fmt.Println("workspace ready:", db.Path(workspace))
				return nil
			})
		},
	}
}

func profileCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "profile", Short: "Manage profiles"}
	cmd.AddCommand(profileWriteCmd("create", "Create a profile"))
	cmd.AddCommand(profileWriteCmd("update", "Update a profile; unset flags keep their value"))
	cmd.AddCommand(profileShowCmd())
	cmd.AddCommand(profileListCmd())
	return cmd
}

func profileWriteCmd(use, short string) *cobra.Command {
	var id string
	fields := map[string]*string{}
	names := []string{"email", "name", "photo-url", "company", "title", "bio", "phone", "website"}
	var social []string
	cmd := &cobra.Command{
		Use:   use,
		Short: short,
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = viper.GetString("user")
			}
			if id == "" {
				return fmt.Errorf("--id or --user required")
			}
			in := engine.ProfileInput{ID: id}
			changed := func(name string) *string {
				if cmd.Flags().Changed(name) {
					return fields[name]
				}
				return nil
			}
			in.Email = changed("email")
			in.DisplayName = changed("name")
			in.PhotoURL = changed("photo-url")
			in.Company = changed("company")
			in.Title = changed("title")
			in.Bio = changed("bio")
			in.Phone = changed("phone")
			in.Website = changed("website")
			if cmd.Flags().Changed("social") {
				in.Social = map[string]string{}
				for _, kv := range social {
					k, v, ok := strings.Cut(kv, "=")
					if !ok {
						return fmt.Errorf("--social expects network=handle, got %q", kv)
					}
					in.Social[k] = v
				}
			}
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				p, err := s.Engine.UpsertProfile(ctx, in, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrTable(p)
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "profile id (defaults to --user)")
	for _, name := range names {
		v := new(string)
		fields[name] = v
		cmd.Flags().StringVar(v, name, "", name)
	}
	cmd.Flags().StringSliceVar(&social, "social", nil, "social handles as network=handle")
	return cmd
}

func profileShowCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "show [id]",
		Short: "Show a profile",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			id := viper.GetString("user")
			if len(args) == 1 {
				id = args[0]
			}
			if id == "" {
				return app.ErrNoUser
			}
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				p, err := s.Engine.GetUserProfile(ctx, id)
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("profile %s not found", id)
				}
				return printJSONOrTable(p)
			})
		},
	}
}

func profileListCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "list",
		Short: "List profiles",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				items, err := s.Engine.ListProfiles(ctx)
				if err != nil {
					return err
				}
				return printProfiles(items)
			})
		},
	}
}

func printProfiles(items []domain.Profile) error {
	if viper.GetBool("json") {
		return printJSON(items)
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Name", "Email", "Company", "Title"})
	for _, p := range items {
		tw.AppendRow(table.Row{p.ID, p.DisplayName, p.Email, p.Company, p.Title})
	}
	tw.Render()
	return nil
}

func qrCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "qr", Short: "Generate and decode deep links"}
	cmd.AddCommand(qrGenerateCmd())
	cmd.AddCommand(qrParseCmd())
	return cmd
}

func qrGenerateCmd() *cobra.Command {
	var id, typ string
	var expiresIn time.Duration
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Print the deep link for a profile",
		RunE: func(cmd *cobra.Command, args []string) error {
			if id == "" {
				id = viper.GetString("user")
			}
			if id == "" {
				return app.ErrNoUser
			}
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				p := qrcode.Payload{Type: qrcode.Type(typ), ID: id, Version: "1"}
				if profile, err := s.Engine.GetUserProfile(ctx, id); err != nil {
					return err
				} else if profile != nil {
					p.Name, p.Email = profile.DisplayName, profile.Email
				}
				if expiresIn > 0 {
					exp := time.Now().Add(expiresIn).UTC()
					p.ExpiresAt = &exp
				}
				data, err := s.Codec.Generate(p)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]any{"data": data, "payload": p})
				}
				fmt.Println(data)
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&id, "id", "", "entity id (defaults to --user)")
	cmd.Flags().StringVar(&typ, "type", string(qrcode.TypeProfile), "payload type: profile or contact")
	cmd.Flags().DurationVar(&expiresIn, "expires-in", 0, "expire the code after this long")
	return cmd
}

func qrParseCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "parse <data>",
		Short: "Decode a scanned string",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			p, err := qrcode.New(cfg.App.Domain).Parse(args[0])
			if err != nil {
				return err
			}
			if p == nil {
				return errors.New("not a DigiDex QR code")
			}
			return printJSONOrTable(p)
		},
	}
}

func scanCmd() *cobra.Command {
	var yes, offline bool
	cmd := &cobra.Command{
		Use:   "scan <data>",
		Short: "Process a scanned QR string as the signed-in user",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := currentUser()
			if err != nil {
				return err
			}
			opts := servicesOpts{}
			if offline {
				opts.network = netstatus.NewStatic(netstatus.Disconnected())
			}
			return withServices(cmd.Context(), opts, func(ctx context.Context, s *app.Services) error {
				var prompter scanner.Prompter = &stdinPrompter{in: bufio.NewReader(os.Stdin), out: os.Stderr}
				if yes {
					prompter = scanner.AutoPrompter{Answer: true, Alerts: printAlert}
				}
				sc := s.NewScanner(userID, app.ScannerOptions{Prompter: prompter})
				res, err := s.Scan(ctx, sc, userID, args[0])
				if viper.GetBool("json") {
					if perr := printJSON(res); perr != nil {
						return perr
					}
				}
				if res.Queued != nil {
					return nil
				}
				return err
			})
		},
	}
	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "send the contact request without asking")
	cmd.Flags().BoolVar(&offline, "offline", false, "treat the device as offline and queue the scan")
	return cmd
}

func batchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "batch",
		Short: "Read one scanned string per line from stdin and add them all to history",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := currentUser()
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				b := &scanner.Batch{}
				b.Start()
				sc := s.NewScanner(userID, app.ScannerOptions{Prompter: scanner.AutoPrompter{Alerts: printAlert}, Batch: b})
				lines := bufio.NewScanner(os.Stdin)
				for lines.Scan() {
					line := strings.TrimSpace(lines.Text())
					if line == "" {
						continue
					}
					if _, err := s.Scan(ctx, sc, userID, line); err != nil {
						fmt.Fprintf(os.Stderr, "skipped %q: %v\n", line, err)
					}
				}
				if err := lines.Err(); err != nil {
					b.Cancel()
					return err
				}
				items, err := sc.FinishBatch(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(items)
			})
		},
	}
}

func historyCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "history", Short: "Recent scans"}
	var page int
	list := &cobra.Command{
		Use:   "list",
		Short: "List recent scans, newest first",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				p, err := s.History.Page(ctx, page)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(p)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Type", "Name", "Email", "Scanned"})
				for _, r := range p.Records {
					tw.AppendRow(table.Row{r.ID, r.Type, r.Data.Name, r.Data.Email, time.UnixMilli(r.Timestamp).Format(time.RFC3339)})
				}
				tw.AppendFooter(table.Row{"", "", "", fmt.Sprintf("page %d", p.Page), fmt.Sprintf("%d total", p.Total)})
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().IntVar(&page, "page", 0, fmt.Sprintf("0-based page of %d records", history.PageSize))
	clearCmd := &cobra.Command{
		Use:   "clear",
		Short: "Forget all recent scans",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				return s.ClearHistory(ctx, viper.GetString("user"))
			})
		},
	}
	cmd.AddCommand(list, clearCmd)
	return cmd
}

func requestsCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "requests", Short: "Contact requests"}
	var incoming bool
	var status string
	list := &cobra.Command{
		Use:   "list",
		Short: "List requests involving the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := currentUser()
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				items, err := s.Engine.ListContactRequests(ctx, userID, incoming, status)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(items)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "From", "To", "Status", "Created"})
				for _, r := range items {
					tw.AppendRow(table.Row{r.ID, r.FromID, r.ToID, r.Status, r.CreatedAt})
				}
				tw.Render()
				return nil
			})
		},
	}
	list.Flags().BoolVar(&incoming, "incoming", false, "only requests addressed to you")
	list.Flags().StringVar(&status, "status", "", "pending, accepted or declined")

	send := &cobra.Command{
		Use:   "send <user-id>",
		Short: "Send a contact request",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := currentUser()
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				cr, err := s.Engine.CreateContactRequest(ctx, userID, args[0])
				if err != nil {
					return err
				}
				return printJSONOrTable(cr)
			})
		},
	}
	cmd.AddCommand(list, send, respondCmd("accept", true), respondCmd("decline", false))
	return cmd
}

func respondCmd(use string, accept bool) *cobra.Command {
	return &cobra.Command{
		Use:   use + " <request-id>",
		Short: strings.ToUpper(use[:1]) + use[1:] + " a request addressed to you",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := currentUser()
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				cr, err := s.Engine.RespondToRequest(ctx, args[0], userID, accept)
				if err != nil {
					return err
				}
				return printJSONOrTable(cr)
			})
		},
	}
}

func contactsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "contacts",
		Short: "Profiles connected to you by an accepted request",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := currentUser()
			if err != nil {
				return err
			}
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				items, err := s.Engine.ListContacts(ctx, userID)
				if err != nil {
					return err
				}
				return printProfiles(items)
			})
		},
	}
}

func queueCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "queue", Short: "Scans waiting for connectivity"}
	list := &cobra.Command{
		Use:   "list",
		Short: "List queued operations",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				ops, err := s.Queue.Pending(ctx)
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(ops)
				}
				tw := table.NewWriter()
				tw.SetOutputMirror(os.Stdout)
				tw.AppendHeader(table.Row{"ID", "Operation", "Queued", "Data"})
				for _, op := range ops {
					tw.AppendRow(table.Row{op.ID, op.Operation, time.UnixMilli(op.Timestamp).Format(time.RFC3339), string(op.Data)})
				}
				tw.Render()
				return nil
			})
		},
	}
	drain := &cobra.Command{
		Use:   "drain",
		Short: "Replay queued operations now",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				res, err := s.DrainQueue(ctx, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrTable(res)
			})
		},
	}
	cmd.AddCommand(list, drain)
	return cmd
}

func cacheCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "cache", Short: "Parsed payload cache"}
	size := &cobra.Command{
		Use:   "size",
		Short: "Number of cached payloads",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				n, err := s.Cache.GetCacheSize(ctx)
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"size": n, "ttl": s.Cache.TTL().String()})
			})
		},
	}
	sweep := &cobra.Command{
		Use:   "sweep",
		Short: "Remove expired entries",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				n, err := s.SweepCache(ctx, viper.GetString("user"))
				if err != nil {
					return err
				}
				return printJSONOrTable(map[string]any{"removed": n})
			})
		},
	}
	cmd.AddCommand(size, sweep)
	return cmd
}

func logCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "log", Short: "Event log"}
	var n int
	var evtType string
	tail := &cobra.Command{
		Use:   "tail",
		Short: "Tail events",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				events, err := s.Engine.LatestEvents(ctx, n, evtType)
				if err != nil {
					return err
				}
				return printJSONOrTable(events)
			})
		},
	}
	tail.Flags().IntVar(&n, "n", 20, "number of events")
	tail.Flags().StringVar(&evtType, "type", "", "event type filter")
	cmd.AddCommand(tail)
	return cmd
}

func tokenCmd() *cobra.Command {
	var ttl time.Duration
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint a bearer token for the signed-in user",
		RunE: func(cmd *cobra.Command, args []string) error {
			userID, err := currentUser()
			if err != nil {
				return err
			}
			secret := viper.GetString("jwt-secret")
			if secret == "" {
				return fmt.Errorf("DIGIDEX_JWT_SECRET is required; run dx init")
			}
			return withServices(cmd.Context(), servicesOpts{}, func(ctx context.Context, s *app.Services) error {
				p, err := s.Engine.GetUserProfile(ctx, userID)
				if err != nil {
					return err
				}
				if p == nil {
					return fmt.Errorf("profile %s not found", userID)
				}
				token, err := auth.SignToken(secret, p.ID, p.Email, ttl, time.Now())
				if err != nil {
					return err
				}
				if viper.GetBool("json") {
					return printJSON(map[string]string{"token": token})
				}
				fmt.Println(token)
				return nil
			})
		},
	}
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTokenTTL, "token lifetime")
	return cmd
}

func configCmd() *cobra.Command {
	cmd := &cobra.Command{Use: "config", Short: "Workspace configuration"}
	show := &cobra.Command{
		Use:   "show",
		Short: "Show loaded config",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := config.LoadOptional(viper.GetString("workspace"))
			if err != nil {
				return err
			}
			return printJSONOrTable(cfg)
		},
	}
	validate := &cobra.Command{
		Use:   "validate",
		Short: "Validate digidex.yml",
		RunE: func(cmd *cobra.Command, args []string) error {
			_, err := config.Load(viper.GetString("workspace"))
			if viper.GetBool("json") {
				return printJSON(map[string]any{"ok": err == nil, "error": fmt.Sprint(err)})
			}
			if err != nil {
				return err
			}
			fmt.Println("config OK")
			return nil
		},
	}
	cmd.AddCommand(show, validate)
	return cmd
}

func serveCmd() *cobra.Command {
	var addr, basePath string
	var devLogin bool
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start HTTP API server",
		RunE: func(cmd *cobra.Command, args []string) error {
			return withServices(cmd.Context(), servicesOpts{background: true}, func(ctx context.Context, s *app.Services) error {
				sc := s.Config.Server
				if cmd.Flags().Changed("addr") || sc.Addr == "" {
					sc.Addr = addr
				}
				if cmd.Flags().Changed("base-path") || sc.BasePath == "" {
					sc.BasePath = basePath
				}
				authCfg := server.AuthConfig{
					JWTSecret:       viper.GetString("jwt-secret"),
					AllowUserHeader: sc.AllowUserHeader,
					EnableDevLogin:  devLogin,
					Logger:          s.Logger,
				}
				if authCfg.JWTSecret == "" && !authCfg.AllowUserHeader {
					return fmt.Errorf("DIGIDEX_JWT_SECRET is required for bearer auth")
				}
				handler, err := server.New(server.Config{
					Services:    s,
					BasePath:    sc.BasePath,
					Auth:        authCfg,
					RateLimit:   sc.RateLimit,
					RateBurst:   sc.RateBurst,
					CORSOrigins: sc.CORSOrigins,
					Logger:      s.Logger,
				})
				if err != nil {
					return err
				}
				srv := &http.Server{Addr: sc.Addr, Handler: handler, ReadHeaderTimeout: 10 * time.Second}
				go func() {
					<-ctx.Done()
					shutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
					defer cancel()
					srv.Shutdown(shutdown)
				}()
				s.Logger.Info("serving DigiDex API", "addr", sc.Addr, "base_path", sc.BasePath)
				fmt.Printf("Serving DigiDex API on http://%s%s (OpenAPI at %s/openapi.json)\n", sc.Addr, sc.BasePath, sc.BasePath)
				if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
					return err
				}
				return nil
			})
		},
	}
	cmd.Flags().StringVar(&addr, "addr", "127.0.0.1:8080", "listen address")
	cmd.Flags().StringVar(&basePath, "base-path", "/v0", "API base path")
	cmd.Flags().BoolVar(&devLogin, "dev-login", false, "expose POST /auth/dev/login (local use only)")
	return cmd
}

type servicesOpts struct {
	network netstatus.Monitor
	// background starts the sweeper, probe and queue listener.
	background bool
}

func withServices(ctx context.Context, opts servicesOpts, fn func(context.Context, *app.Services) error) error {
	workspace := viper.GetString("workspace")
	cfg, err := config.LoadOptional(workspace)
	if err != nil {
		return err
	}
	logger := logging.New(os.Stderr, cfg.Log.Level, cfg.Log.Format)
	s, err := app.Open(ctx, app.Options{
		Workspace: workspace,
		Config:    cfg,
		Logger:    logger,
		Network:   opts.network,
	})
	if err != nil {
		return err
	}
	defer s.Close()
	if opts.background {
		s.Start(ctx)
	}
	return fn(ctx, s)
}

func currentUser() (string, error) {
	id := strings.TrimSpace(viper.GetString("user"))
	if id == "" {
		return "", app.ErrNoUser
	}
	return id, nil
}

// stdinPrompter asks y/N questions on the terminal.
type stdinPrompter struct {
	in  *bufio.Reader
	out io.Writer
}

func (p *stdinPrompter) Confirm(_ context.Context, title, message string) (bool, error) {
	fmt.Fprintf(p.out, "%s: %s [y/N] ", title, message)
	line, err := p.in.ReadString('\n')
	if err != nil && !errors.Is(err, io.EOF) {
		return false, err
	}
	answer := strings.ToLower(strings.TrimSpace(line))
	return answer == "y" || answer == "yes", nil
}

func (p *stdinPrompter) Alert(_ context.Context, title, message string) {
	fmt.Fprintf(p.out, "%s: %s\n", title, message)
}

func printAlert(title, message string) {
	fmt.Fprintf(os.Stderr, "%s: %s\n", title, message)
}

func printJSONOrTable(v any) error {
	if viper.GetBool("json") {
		return printJSON(v)
	}
	b, _ := json.MarshalIndent(v, "", "  ")
	fmt.Println(string(b))
	return nil
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func setEnvValue(path, key, value string) error {
	var lines []string
	seen := false
	f, err := os.Open(path)
	if err == nil {
		sc := bufio.NewScanner(f)
		for sc.Scan() {
			line := sc.Text()
			if strings.HasPrefix(line, key+"=") {
				lines = append(lines, fmt.Sprintf("%s=%s", key, value))
				seen = true
			} else {
				lines = append(lines, line)
			}
		}
		if err := sc.Err(); err != nil {
			f.Close()
			return err
		}
		f.Close()
	} else if !os.IsNotExist(err) {
		return err
	}
	if !seen {
		lines = append(lines, fmt.Sprintf("%s=%s", key, value))
	}
	content := strings.Join(lines, "\n")
	if content != "" && !strings.HasSuffix(content, "\n") {
		content += "\n"
	}
	return os.WriteFile(path, []byte(content), 0o600)
}
