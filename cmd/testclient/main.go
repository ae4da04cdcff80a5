package main

import (
	"context"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"

	grpcapi "avatar-control-service/internal/api/grpc"
	"avatar-control-service/internal/models"
)

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	addr := "localhost:50051"
	if v := os.Getenv("GRPC_ADDR"); v != "" {
		addr = v
	}

	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to connect")
	}
	defer conn.Close()

	log.Info().Str("addr", addr).Msg("Connected to server")

	client := grpcapi.NewTranscriptClient(conn)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stream, err := client.StreamTranscripts(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to create stream")
	}

	// One user question and a streamed agent reply
	updates := []models.TranscriptUpdate{
		{ChannelID: "kiosk-test", SpeakerRole: models.RoleUser, Text: "你好", IsFinal: true},
		{ChannelID: "kiosk-test", SpeakerRole: models.RoleAgent, Text: "你好，"},
		{ChannelID: "kiosk-test", SpeakerRole: models.RoleAgent, Text: "你好，欢迎来到"},
		{ChannelID: "kiosk-test", SpeakerRole: models.RoleAgent, Text: "你好，欢迎来到展厅。", IsFinal: true},
	}

	for i := range updates {
		updates[i].Timestamp = time.Now().UnixMilli()
		log.Info().Str("role", string(updates[i].SpeakerRole)).Str("text", updates[i].Text).Msg("Sending update")
		if err := stream.Send(&updates[i]); err != nil {
			log.Fatal().Err(err).Msg("Failed to send update")
		}
		time.Sleep(100 * time.Millisecond)
	}

	// Close and receive response
	ack, err := stream.CloseAndRecv()
	if err != nil {
		log.Fatal().Err(err).Msg("Failed to receive ack")
	}

	log.Info().Str("channelId", ack.ChannelID).Int("updates", ack.Updates).Int("rejected", ack.Rejected).Msg("Received ack")
}
