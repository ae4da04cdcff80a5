package commands

import (
	"context"
	"fmt"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "avatar-control-service/internal/api/grpc"
	"avatar-control-service/internal/models"
	"avatar-control-service/internal/service/transcript/mock"
)

var streamDelay time.Duration

var streamCmd = &cobra.Command{
	Use:   "stream",
	Short: "Stream the scripted conversation to the service over gRPC",
	Long: `Stream the scripted conversation to the service over gRPC, the way
the realtime layer forwards room transcripts.

Example:
  avatarctl -k kiosk-1 stream --delay 200ms`,
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, err := grpc.NewClient(grpcAddr, grpc.WithTransportCredentials(insecure.NewCredentials()))
		if err != nil {
			return fmt.Errorf("connect %s: %w", grpcAddr, err)
		}
		defer conn.Close()

		ctx, cancel := context.WithTimeout(cmd.Context(), 5*time.Minute)
		defer cancel()

		stream, err := grpcapi.NewTranscriptClient(conn).StreamTranscripts(ctx)
		if err != nil {
			return fmt.Errorf("open stream: %w", err)
		}

		var sendErr error
		src := mock.New(streamDelay)
		runErr := src.Run(ctx, channelID, func(u models.TranscriptUpdate) {
			if sendErr != nil {
				return
			}
			if !outputJSON {
				fmt.Printf("%-5s final=%-5t %s\n", u.SpeakerRole, u.IsFinal, u.Text)
			}
			sendErr = stream.Send(&u)
		})
		if runErr != nil {
			return runErr
		}
		if sendErr != nil {
			return fmt.Errorf("send update: %w", sendErr)
		}

		ack, err := stream.CloseAndRecv()
		if err != nil {
			return fmt.Errorf("receive ack: %w", err)
		}
		fmt.Printf("ack: channel=%s updates=%d rejected=%d\n", ack.ChannelID, ack.Updates, ack.Rejected)
		return nil
	},
}

func init() {
	streamCmd.Flags().DurationVar(&streamDelay, "delay", 300*time.Millisecond, "delay between updates")
}
