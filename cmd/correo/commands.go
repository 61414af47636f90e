package main

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"os"
	"strings"
	"text/tabwriter"
	"time"

	"github.com/launchdarkly/eventsource"
	"github.com/spf13/cobra"

	"github.com/correomqtt/correo-core/internal/api"
	"github.com/correomqtt/correo-core/internal/auth"
	"github.com/correomqtt/correo-core/internal/event"
	"github.com/correomqtt/correo-core/internal/message"
	"github.com/correomqtt/correo-core/internal/settings"
)

// streamRetryDelay caps the backoff between event stream reconnects.
const streamRetryDelay = 30 * time.Second

// clientFlags select the daemon to talk to.
type clientFlags struct {
	server string
	token  string
}

func (f *clientFlags) register(cmd *cobra.Command) {
	cmd.Flags().StringVar(&f.server, "server", "", "daemon base URL (default from api.host and api.port)")
	cmd.Flags().StringVar(&f.token, "token", "", "bearer token (default: minted from security.jwt.secret)")
}

func (f *clientFlags) client(opts *rootOptions) (*apiClient, error) {
	cfg, _, err := opts.load()
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}
	return newAPIClient(cfg, f.server, f.token)
}

// ─── connections ──────────────────────────────────────────────────

func newConnectionsCmd(opts *rootOptions) *cobra.Command {
	var asJSON bool

	cmd := &cobra.Command{
		Use:   "connections",
		Short: "List the saved broker connections",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			svc, err := settings.Open(cfg.Settings.Path, event.NewBus())
			if err != nil {
				return fmt.Errorf("opening settings: %w", err)
			}

			conns := svc.Connections()
			out := cmd.OutOrStdout()
			if asJSON {
				for i := range conns {
					conns[i].Password = ""
				}
				enc := json.NewEncoder(out)
				enc.SetIndent("", "  ")
				return enc.Encode(conns)
			}

			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "ID\tNAME\tBROKER\tTLS")
			for _, c := range conns {
				fmt.Fprintf(tw, "%s\t%s\t%s:%d\t%t\n", c.ID, c.Name, c.Host, c.Port, c.SSL)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print JSON instead of a table (passwords omitted)")
	return cmd
}

// ─── publish ──────────────────────────────────────────────────────

func newPublishCmd(opts *rootOptions) *cobra.Command {
	var (
		flags    clientFlags
		qos      int
		retained bool
	)

	cmd := &cobra.Command{
		Use:   "publish <connection-id> <topic> [payload]",
		Short: "Publish a message through a connected session of the daemon",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(opts)
			if err != nil {
				return err
			}

			body := map[string]any{
				"topic":    args[1],
				"retained": retained,
			}
			if len(args) == 3 {
				body["payload"] = args[2]
			}
			if cmd.Flags().Changed("qos") {
				body["qos"] = qos
			}

			var msg message.Message
			if err := c.do(cmd.Context(), http.MethodPost, connectionPath(args[0], "publish"), body, &msg); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "%s %s qos=%d retained=%t %s\n",
				msg.PublishStatus, msg.Topic, msg.QoS, msg.Retained, msg.ID)
			return nil
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&qos, "qos", "q", 0, "quality of service (default from mqtt.qos)")
	cmd.Flags().BoolVarP(&retained, "retain", "r", false, "set the retained flag")
	return cmd
}

// ─── subscribe ────────────────────────────────────────────────────

func newSubscribeCmd(opts *rootOptions) *cobra.Command {
	var (
		flags  clientFlags
		qos    int
		count  int
		events bool
	)

	cmd := &cobra.Command{
		Use:   "subscribe <connection-id> [topic-filter...]",
		Short: "Stream received messages of a connection as JSON lines",
		Long: `Subscribes the daemon's session to the given topic filters, if any, and
prints every received message as one JSON object per line until interrupted.`,
		Args: cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			c, err := flags.client(opts)
			if err != nil {
				return err
			}
			ctx := cmd.Context()
			id := args[0]

			for _, filter := range args[1:] {
				body := map[string]any{"topic": filter}
				if cmd.Flags().Changed("qos") {
					body["qos"] = qos
				}
				if err := c.do(ctx, http.MethodPost, connectionPath(id, "subscriptions"), body, nil); err != nil {
					return fmt.Errorf("subscribing to %s: %w", filter, err)
				}
			}

			req, err := c.newRequest(ctx, http.MethodGet, connectionPath(id, "events"), nil)
			if err != nil {
				return err
			}
			stream, err := eventsource.SubscribeWithRequestAndOptions(req,
				eventsource.StreamOptionHTTPClient(c.http),
				eventsource.StreamOptionUseBackoff(streamRetryDelay),
				eventsource.StreamOptionUseJitter(0.25),
			)
			if err != nil {
				return fmt.Errorf("opening event stream: %w", err)
			}
			defer stream.Close()

			out := cmd.OutOrStdout()
			errs := stream.Errors
			printed := 0
			for {
				select {
				case <-ctx.Done():
					return nil
				case err, ok := <-errs:
					if !ok {
						errs = nil
						continue
					}
					fmt.Fprintf(cmd.ErrOrStderr(), "event stream: %v\n", err)
				case ev, ok := <-stream.Events:
					if !ok {
						return nil
					}
					if !events && ev.Event() != api.ChannelMessageReceived {
						continue
					}
					if err := writeEventLine(out, ev, events); err != nil {
						return err
					}
					printed++
					if count > 0 && printed >= count {
						return nil
					}
				}
			}
		},
	}
	flags.register(cmd)
	cmd.Flags().IntVarP(&qos, "qos", "q", 0, "quality of service for new subscriptions (default from mqtt.qos)")
	cmd.Flags().IntVarP(&count, "count", "n", 0, "exit after this many lines (0 streams until interrupted)")
	cmd.Flags().BoolVar(&events, "events", false, "print every connection event, wrapped with its name")
	return cmd
}

// writeEventLine prints the event data, or the whole event when wrap is set.
func writeEventLine(w io.Writer, ev eventsource.Event, wrap bool) error {
	data := strings.TrimSpace(ev.Data())
	if !wrap {
		_, err := fmt.Fprintln(w, data)
		return err
	}
	line, err := json.Marshal(struct {
		ID    string          `json:"id,omitempty"`
		Event string          `json:"event"`
		Data  json.RawMessage `json:"data"`
	}{ev.Id(), ev.Event(), json.RawMessage(data)})
	if err != nil {
		return fmt.Errorf("encoding event: %w", err)
	}
	_, err = fmt.Fprintln(w, string(line))
	return err
}

// ─── token ────────────────────────────────────────────────────────

func newTokenCmd(opts *rootOptions) *cobra.Command {
	var (
		subject string
		ttl     time.Duration
	)

	cmd := &cobra.Command{
		Use:   "token",
		Short: "Issue a bearer token for the control API",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := opts.load()
			if err != nil {
				return fmt.Errorf("loading config: %w", err)
			}
			if !cfg.AuthEnabled() {
				return errNoSecret
			}
			if !cmd.Flags().Changed("ttl") {
				ttl = cfg.Security.JWT.TokenTTL
			}

			token, claims, err := auth.GenerateToken(subject, cfg.Security.JWT.Secret, ttl)
			if err != nil {
				return err
			}
			fmt.Fprintln(cmd.OutOrStdout(), token)
			fmt.Fprintf(cmd.ErrOrStderr(), "expires %s\n", claims.ExpiresAt.Format(time.RFC3339))
			return nil
		},
	}
	cmd.Flags().StringVar(&subject, "subject", defaultSubject(), "token subject")
	cmd.Flags().DurationVar(&ttl, "ttl", auth.DefaultTTL, "token lifetime (default security.jwt.token_ttl)")
	return cmd
}

func defaultSubject() string {
	if u := os.Getenv("USER"); u != "" {
		return u
	}
	return cliSubject
}
