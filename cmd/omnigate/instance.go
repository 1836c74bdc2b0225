package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"omnigate/internal/authstore"
	"omnigate/internal/domain"

	"github.com/spf13/cobra"
)

func logoutCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "logout [instance]",
		Short: "Delete stored credentials for an instance",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := context.Background()
			_, _, gw, err := openGateway(ctx)
			if err != nil {
				return err
			}
			defer shutdown(gw)
			if err := gw.Logout(ctx, args[0]); err != nil {
				return err
			}
			fmt.Printf("Logged out %s.\n", args[0])
			return nil
		},
	}
}

func sendCmd() *cobra.Command {
	var (
		replyTo  string
		mediaURL string
		typ      string
		timeout  time.Duration
	)
	cmd := &cobra.Command{
		Use:   "send [instance] [to] [text]",
		Short: "Connect an instance, send one message and disconnect",
		Args:  cobra.RangeArgs(2, 3),
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			ctx, cancel := context.WithTimeout(ctx, timeout)
			defer cancel()

			_, eb, gw, err := openGateway(ctx)
			if err != nil {
				return err
			}
			defer shutdown(gw)

			id := args[0]
			ready := make(chan domain.ConnectionStatus, 1)
			notify := func(e domain.Event) {
				if st, ok := e.Payload.(domain.ConnectionStatus); ok && (st.State == domain.StateConnected || st.Terminal) {
					select {
					case ready <- st:
					default:
					}
				}
			}
			opts := domain.SubscribeOptions{InstanceID: id}
			eb.Subscribe(domain.TopicInstanceConnected, notify, opts)
			eb.Subscribe(domain.TopicInstanceDisconnected, notify, opts)
			eb.Subscribe(domain.TopicInstanceAwaitingAuth, func(domain.Event) {
				cancel()
			}, opts)

			if err := gw.Connect(ctx, id, false); err != nil {
				return err
			}
			select {
			case st := <-ready:
				if st.State != domain.StateConnected {
					return fmt.Errorf("instance %s did not connect: %s", id, st.Reason)
				}
			case <-ctx.Done():
				return fmt.Errorf("instance %s is not paired or did not connect in time (run 'omnigate pair %s')", id, id)
			}

			msg := domain.OutgoingMessage{
				To:      args[1],
				ReplyTo: replyTo,
				Content: domain.OutgoingContent{Type: domain.ContentType(typ), MediaURL: mediaURL},
			}
			if len(args) == 3 {
				if msg.Content.Type == domain.ContentText {
					msg.Content.Text = args[2]
				} else {
					msg.Content.Caption = args[2]
				}
			}
			res := gw.Send(ctx, id, msg)
			out, _ := json.MarshalIndent(res, "", "  ")
			fmt.Println(string(out))
			if !res.Success {
				return fmt.Errorf("send failed: %s", res.Error)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&typ, "type", string(domain.ContentText), "content type (text, image, audio, video, document)")
	cmd.Flags().StringVar(&mediaURL, "media", "", "media URL for non-text content")
	cmd.Flags().StringVar(&replyTo, "reply-to", "", "message id to reply to")
	cmd.Flags().DurationVar(&timeout, "timeout", time.Minute, "give up after this long")
	return cmd
}

func statusCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "status",
		Short: "Show configured instances and stored credentials",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfgPath := resolveConfigPath()
			cfg, err := loadConfig()
			if err != nil {
				return err
			}
			fmt.Printf("omnigate %s\nconfig:  %s\nstorage: %s\n\n", version, cfgPath, cfg.Storage.Driver)

			ctx := context.Background()
			store, err := authstore.Open(ctx, cfg.Storage.Driver, cfg.AuthDBPath(), cfg.Storage.DSN, logger)
			if err != nil {
				return err
			}
			defer store.Close()
			stored, err := store.Instances(ctx)
			if err != nil {
				return err
			}
			paired := make(map[string]bool, len(stored))
			for _, id := range stored {
				paired[id] = true
			}

			fmt.Printf("%-16s %-10s %-12s %s\n", "INSTANCE", "PLATFORM", "AUTOCONNECT", "CREDENTIALS")
			for _, e := range cfg.Instances {
				creds := "none"
				if paired[e.ID] {
					keys, _ := store.Keys(ctx, domain.AuthPrefix(e.ID))
					creds = fmt.Sprintf("%d keys", len(keys))
				} else if e.Platform != string(domain.PlatformWhatsApp) && e.Token != "" {
					creds = "token"
				}
				fmt.Printf("%-16s %-10s %-12v %s\n", e.ID, e.Platform, e.AutoConnect, creds)
				delete(paired, e.ID)
			}
			if len(paired) > 0 {
				var orphans []string
				for id := range paired {
					orphans = append(orphans, id)
				}
				fmt.Printf("\nstored credentials without a configured instance: %s\n", strings.Join(orphans, ", "))
			}
			return nil
		},
	}
}
