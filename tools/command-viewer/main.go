// Command Viewer - live view of what the avatars are told to say.
// Consumes the speak and turn topics from Kafka and pushes them to the
// browser over WebSocket.
package main

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"io/fs"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"github.com/segmentio/kafka-go"
	"github.com/spf13/cobra"
)

//go:embed static/*
var staticFiles embed.FS

var (
	port      string
	brokers   string
	topicSpk  string
	topicTurn string
	channel   string
)

var rootCmd = &cobra.Command{
	Use:           "command-viewer",
	Short:         "Show emitted speak chunks and turns in the browser",
	SilenceUsage:  true,
	SilenceErrors: true,
	RunE: func(cmd *cobra.Command, args []string) error {
		return serve(cmd.Context())
	},
}

func truncate(s string, maxRunes int) string {
	r := []rune(s)
	if len(r) <= maxRunes {
		return s
	}
	return string(r[:maxRunes]) + "..."
}

// decodeEvent parses one Kafka message. Events for other channels are
// skipped when filter is set.
func decodeEvent(value []byte, filter string) (ViewerEvent, bool, error) {
	var event ViewerEvent
	if err := json.Unmarshal(value, &event); err != nil {
		return event, false, err
	}
	if filter != "" && event.ChannelID != filter {
		return event, false, nil
	}
	return event, true, nil
}

func consumeKafka(ctx context.Context, hub *Hub, brokers, topic, filter string) {
	// A throwaway group reads every partition; events are keyed by channel.
	reader := kafka.NewReader(kafka.ReaderConfig{
		Brokers:     strings.Split(brokers, ","),
		Topic:       topic,
		GroupID:     "command-viewer-" + uuid.NewString(),
		StartOffset: kafka.LastOffset,
		MinBytes:    1,
		MaxBytes:    10e6,
	})
	defer reader.Close()

	log.Info().Str("topic", topic).Msg("Consuming from Kafka topic")

	for {
		msg, err := reader.ReadMessage(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Warn().Err(err).Str("topic", topic).Msg("Kafka read error")
			time.Sleep(time.Second)
			continue
		}

		event, ok, err := decodeEvent(msg.Value, filter)
		if err != nil {
			log.Warn().Err(err).Msg("JSON unmarshal error")
			continue
		}
		if !ok {
			continue
		}

		log.Debug().
			Str("eventType", event.EventType).
			Str("turnId", event.TurnID).
			Str("text", truncate(event.Text, 40)).
			Msg("Received event")
		select {
		case hub.broadcast <- event:
		case <-ctx.Done():
			return
		}
	}
}

func serve(ctx context.Context) error {
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	hub := newHub()
	go hub.run()
	defer hub.stop()

	// Start Kafka consumers
	go consumeKafka(ctx, hub, brokers, topicSpk, channel)
	go consumeKafka(ctx, hub, brokers, topicTurn, channel)

	staticFS, err := fs.Sub(staticFiles, "static")
	if err != nil {
		return err
	}
	mux := http.NewServeMux()
	mux.Handle("/", http.FileServer(http.FS(staticFS)))
	mux.HandleFunc("/ws", wsHandler(hub))

	srv := &http.Server{Addr: ":" + port, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutdownCtx)
	}()

	log.Info().
		Str("url", "http://localhost:"+port).
		Str("brokers", brokers).
		Strs("topics", []string{topicSpk, topicTurn}).
		Msg("Command viewer starting")

	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func init() {
	rootCmd.Flags().StringVar(&port, "port", "8081", "HTTP server port")
	rootCmd.Flags().StringVar(&brokers, "brokers", "localhost:9092", "Kafka brokers (comma-separated)")
	rootCmd.Flags().StringVar(&topicSpk, "topic-speak", "avatar.speak.chunk", "speak chunk topic")
	rootCmd.Flags().StringVar(&topicTurn, "topic-turn", "avatar.turn.final", "turn topic")
	rootCmd.Flags().StringVar(&channel, "channel", "", "only show this channel")
}

func main() {
	log.Logger = zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout, TimeFormat: time.Kitchen}).With().Timestamp().Logger()

	if err := rootCmd.Execute(); err != nil {
		log.Fatal().Err(err).Msg("Command viewer failed")
	}
}
