// Command score-producer publishes synthetic arcade score submissions to
// Kafka for load testing the ingestion path.
package main

import (
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"math/rand"
	"os"
	"os/signal"
	"strings"
	"sync"
	"sync/atomic"
	"syscall"
	"time"

	"github.com/IBM/sarama"
	"github.com/ethereum/go-ethereum/common"
	"github.com/ethereum/go-ethereum/crypto"
	"github.com/google/uuid"

	"github.com/arcade-scores/internal/domain"
	"github.com/arcade-scores/internal/games"
)

// hotPlayers receive most of the traffic so the top of each board keeps moving
const hotPlayers = 20

var namePrefixes = []string{
	"Phoenix", "Shadow", "Thunder", "Storm", "Blaze", "Ninja", "Dragon", "Wolf",
	"Ghost", "Titan", "Frost", "Cyber", "Nova", "Raven", "Omega", "Pulse",
}

type player struct {
	address string
	name    string
}

// newPlayers derives stable addresses so repeated runs hit the same accounts
func newPlayers(n int) []player {
	players := make([]player, n)
	for i := range players {
		name := fmt.Sprintf("%s%d", namePrefixes[i%len(namePrefixes)], i/len(namePrefixes)+1)
		addr := common.BytesToAddress(crypto.Keccak256([]byte("arcade-player:" + name)))
		players[i] = player{
			address: strings.ToLower(addr.Hex()),
			name:    name,
		}
	}
	return players
}

// randomSubmission builds a submission that passes the game's plausibility rules
func randomSubmission(rng *rand.Rand, rule domain.GameRule, p player) domain.ScoreSubmission {
	score := rng.Int63n(rule.MaxScore) + 1
	duration := rule.MinDuration + rng.Int63n(300)

	sub := domain.NewSubmission(rule.ID, score, duration, p.address)
	sub.DisplayName = p.name
	sub.Nonce = uuid.NewString()
	return sub
}

func main() {
	brokers := flag.String("brokers", "localhost:9094", "Kafka brokers (comma-separated)")
	topic := flag.String("topic", "arcade-scores", "Kafka topic")
	gameID := flag.Int("game", 0, "Game id to target (0 = random game)")
	totalPlayers := flag.Int("players", 500, "Number of distinct players")
	updatesPerSecond := flag.Int("rate", 50, "Submissions per second")
	duration := flag.Duration("duration", 0, "Duration to run (0 = forever)")
	flag.Parse()

	if *totalPlayers <= hotPlayers {
		log.Fatalf("players must be greater than %d", hotPlayers)
	}
	if *updatesPerSecond <= 0 {
		log.Fatal("rate must be positive")
	}

	table := games.Default()
	rules := table.All()
	if *gameID != 0 {
		rule, ok := table.Lookup(*gameID)
		if !ok {
			log.Fatalf("unknown game %d", *gameID)
		}
		rules = []domain.GameRule{rule}
	}

	players := newPlayers(*totalPlayers)
	rng := rand.New(rand.NewSource(time.Now().UnixNano()))

	fmt.Println("Arcade score producer")
	fmt.Printf("  Brokers:     %s\n", *brokers)
	fmt.Printf("  Topic:       %s\n", *topic)
	fmt.Printf("  Games:       %d\n", len(rules))
	fmt.Printf("  Players:     %d\n", *totalPlayers)
	fmt.Printf("  Rate:        %d/sec\n", *updatesPerSecond)
	fmt.Println()

	config := sarama.NewConfig()
	config.Producer.RequiredAcks = sarama.WaitForLocal
	config.Producer.Compression = sarama.CompressionSnappy
	config.Producer.Flush.Frequency = 100 * time.Millisecond
	config.Producer.Flush.Messages = 100
	config.Producer.Return.Successes = true
	config.Producer.Return.Errors = true

	producer, err := sarama.NewAsyncProducer(strings.Split(*brokers, ","), config)
	if err != nil {
		log.Fatalf("Failed to create producer: %v", err)
	}

	var sent, failed, produced int64
	var wg sync.WaitGroup

	wg.Add(2)
	go func() {
		defer wg.Done()
		for range producer.Successes() {
			atomic.AddInt64(&sent, 1)
		}
	}()
	go func() {
		defer wg.Done()
		for err := range producer.Errors() {
			atomic.AddInt64(&failed, 1)
			log.Printf("Producer error: %v", err)
		}
	}()

	shutdown := func(reason string) {
		fmt.Printf("\n%s, shutting down...\n", reason)
		producer.AsyncClose()
		wg.Wait()
		fmt.Printf("Completed. Produced: %d, Sent: %d, Errors: %d\n",
			atomic.LoadInt64(&produced), atomic.LoadInt64(&sent), atomic.LoadInt64(&failed))
	}

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	ticker := time.NewTicker(time.Second / time.Duration(*updatesPerSecond))
	defer ticker.Stop()
	statsTicker := time.NewTicker(5 * time.Second)
	defer statsTicker.Stop()

	var deadline <-chan time.Time
	if *duration > 0 {
		deadline = time.After(*duration)
	}

	for {
		select {
		case <-sigChan:
			shutdown("Interrupted")
			return

		case <-deadline:
			shutdown("Duration reached")
			return

		case <-ticker.C:
			// 70% of traffic goes to the hot players
			idx := hotPlayers + rng.Intn(len(players)-hotPlayers)
			if rng.Intn(100) < 70 {
				idx = rng.Intn(hotPlayers)
			}
			p := players[idx]
			sub := randomSubmission(rng, rules[rng.Intn(len(rules))], p)

			data, err := json.Marshal(sub)
			if err != nil {
				log.Printf("Failed to marshal submission: %v", err)
				continue
			}
			producer.Input() <- &sarama.ProducerMessage{
				Topic: *topic,
				Key:   sarama.StringEncoder(p.address),
				Value: sarama.ByteEncoder(data),
			}
			atomic.AddInt64(&produced, 1)

		case <-statsTicker.C:
			fmt.Printf("[%s] Produced: %d | Sent: %d | Errors: %d\n",
				time.Now().Format("15:04:05"),
				atomic.LoadInt64(&produced),
				atomic.LoadInt64(&sent),
				atomic.LoadInt64(&failed),
			)
		}
	}
}
