package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"omnigate/internal/domain"
	"omnigate/internal/gateway"

	"github.com/skip2/go-qrcode"
	"github.com/spf13/cobra"
)

func pairCmd() *cobra.Command {
	var (
		force   bool
		pngPath string
		timeout time.Duration
	)
	cmd := &cobra.Command{
		Use:   "pair [instance]",
		Short: "Connect an instance interactively and show its pairing challenge",
		Long: `Connects one instance and prints every pairing challenge it issues:
a QR code in the terminal or an 8-character phone code. Exits once the
instance is connected or gives up.`,
		Args: cobra.ExactArgs(1),
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
			done := make(chan domain.ConnectionStatus, 1)
			opts := domain.SubscribeOptions{InstanceID: id}
			eb.Subscribe(domain.TopicInstanceAuthChallenge, func(e domain.Event) {
				if ch, ok := e.Payload.(domain.Challenge); ok {
					showChallenge(ch, pngPath)
				}
			}, opts)
			finish := func(e domain.Event) {
				st, ok := e.Payload.(domain.ConnectionStatus)
				if !ok || (st.State != domain.StateConnected && !st.Terminal) {
					return
				}
				select {
				case done <- st:
				default:
				}
			}
			eb.Subscribe(domain.TopicInstanceConnected, finish, opts)
			eb.Subscribe(domain.TopicInstanceDisconnected, finish, opts)

			if err := gw.Connect(ctx, id, force); err != nil {
				return err
			}
			select {
			case st := <-done:
				if st.State != domain.StateConnected {
					return fmt.Errorf("pairing failed: %s", st.Reason)
				}
				fmt.Printf("Instance %s connected.\n", id)
				return nil
			case <-ctx.Done():
				if errors.Is(ctx.Err(), context.DeadlineExceeded) {
					return fmt.Errorf("pairing timed out after %s", timeout)
				}
				return ctx.Err()
			}
		},
	}
	cmd.Flags().BoolVar(&force, "force", false, "discard stored credentials and pair again")
	cmd.Flags().StringVar(&pngPath, "png", "", "also write each QR code to this PNG file")
	cmd.Flags().DurationVar(&timeout, "timeout", 5*time.Minute, "give up after this long")
	return cmd
}

func showChallenge(ch domain.Challenge, pngPath string) {
	fmt.Printf("\nPairing attempt %d (cycle %d), expires %s\n", ch.Attempt, ch.Cycle, ch.ExpiresAt.Format(time.Kitchen))
	if ch.Kind == domain.ChallengePhoneCode {
		fmt.Printf("Enter this code on your phone: %s\n", ch.Code)
		return
	}
	qr, err := qrcode.New(ch.Code, qrcode.Low)
	if err != nil {
		logger.Warn("render qr failed", "err", err)
		fmt.Println(ch.Code)
		return
	}
	fmt.Println(qr.ToSmallString(false))
	if pngPath != "" {
		if err := qrcode.WriteFile(ch.Code, qrcode.Medium, 256, pngPath); err != nil {
			logger.Warn("write qr png failed", "path", pngPath, "err", err)
		}
	}
}

func shutdown(gw *gateway.Gateway) {
	ctx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := gw.Shutdown(ctx); err != nil {
		logger.Warn("shutdown", "err", err)
	}
}
