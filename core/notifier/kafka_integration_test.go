package notifier_test

import (
	"context"
	"fmt"
	"math/rand"
	"testing"
	"time"

	"github.com/goccy/go-json"
	"github.com/gorilla/mux"
	"github.com/segmentio/kafka-go"
	"github.com/stretchr/testify/suite"
	"github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/network"
	"github.com/testcontainers/testcontainers-go/wait"

	"github.com/relabs-tech/schemabase/core/backend"
	"github.com/relabs-tech/schemabase/core/client"
	"github.com/relabs-tech/schemabase/core/notifier"
	"github.com/relabs-tech/schemabase/core/schema"
)

const partitions = 3

type KafkaTestSuite struct {
	suite.Suite
	network   *testcontainers.DockerNetwork
	zookeeper testcontainers.Container
	kafka     testcontainers.Container
	kafkaAddr string
}

func TestKafkaTestSuite(t *testing.T) {
	if testing.Short() {
		t.Skip("kafka tests need containers")
	}
	testcontainers.SkipIfProviderIsNotHealthy(t)
	suite.Run(t, &KafkaTestSuite{})
}

func (s *KafkaTestSuite) SetupSuite() {
	ctx := context.Background()

	// Kafka and Zookeeper find each other through a shared network
	nw, err := network.New(ctx)
	s.Require().NoError(err)
	s.network = nw
	networkName := nw.Name

	s.zookeeper, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-zookeeper:7.5.0",
			ExposedPorts: []string{"2181/tcp"},
			Env: map[string]string{
				"ZOOKEEPER_CLIENT_PORT": "2181",
				"ZOOKEEPER_TICK_TIME":   "2000",
			},
			WaitingFor:     wait.ForListeningPort("2181/tcp"),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"zookeeper"}},
		},
		Started: true,
	})
	s.Require().NoError(err)

	s.kafka, err = testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "confluentinc/cp-kafka:7.5.0",
			ExposedPorts: []string{"9092:9092/tcp", "29092:29092/tcp"},
			Env: map[string]string{
				"KAFKA_BROKER_ID":                        "1",
				"KAFKA_ZOOKEEPER_CONNECT":                "zookeeper:2181",
				"KAFKA_LISTENERS":                        "PLAINTEXT://0.0.0.0:9092,PLAINTEXT_HOST://0.0.0.0:29092",
				"KAFKA_ADVERTISED_LISTENERS":             "PLAINTEXT://localhost:9092,PLAINTEXT_HOST://localhost:29092",
				"KAFKA_LISTENER_SECURITY_PROTOCOL_MAP":   "PLAINTEXT:PLAINTEXT,PLAINTEXT_HOST:PLAINTEXT",
				"KAFKA_OFFSETS_TOPIC_REPLICATION_FACTOR": "1",
			},
			WaitingFor:     wait.ForLog("started (kafka.server.KafkaServer)").WithStartupTimeout(2 * time.Minute),
			Networks:       []string{networkName},
			NetworkAliases: map[string][]string{networkName: {"kafka"}},
		},
		Started: true,
	})
	s.Require().NoError(err)

	host, err := s.kafka.Host(ctx)
	s.Require().NoError(err)
	port, err := s.kafka.MappedPort(ctx, "9092")
	s.Require().NoError(err)
	s.kafkaAddr = fmt.Sprintf("%s:%s", host, port.Port())
}

func (s *KafkaTestSuite) TearDownSuite() {
	ctx := context.Background()
	for _, c := range []testcontainers.Container{s.kafka, s.zookeeper} {
		if c != nil {
			s.NoError(c.Terminate(ctx))
		}
	}
	if s.network != nil {
		s.NoError(s.network.Remove(ctx))
	}
}

func (s *KafkaTestSuite) createTopic(topic string) {
	conn, err := kafka.Dial("tcp", s.kafkaAddr)
	s.Require().NoError(err)
	defer conn.Close()
	err = conn.CreateTopics(kafka.TopicConfig{
		Topic:             topic,
		NumPartitions:     partitions,
		ReplicationFactor: 1,
	})
	s.Require().NoError(err, "cannot create topic %s", topic)
}

// TestChangeOrdering checks that all changes of one record arrive in the
// order they were made
func (s *KafkaTestSuite) TestChangeOrdering() {
	topic := fmt.Sprintf("changes-%d", time.Now().UnixNano())
	s.createTopic(topic)

	k, err := notifier.NewKafka(notifier.KafkaConfiguration{Brokers: s.kafkaAddr, Topic: topic})
	s.Require().NoError(err)
	defer k.Close()

	e, err := schema.ParseEntity([]byte(`{
		"entity_name": "counters",
		"permissions": {"get": "anyone", "create": "anyone", "update": "anyone"},
		"schema": {"properties": {"value": {"type": "integer"}}}
	}`))
	s.Require().NoError(err)
	router := mux.NewRouter()
	backend.New(&backend.Builder{Router: router, Entities: []*schema.Entity{e}, Notifier: k})
	counters := client.NewWithRouter(router).Collection("counters")

	var ids []string
	expected := map[string][]float64{}
	for i := 0; i < 5; i++ {
		var created client.ItemResponse
		_, err := counters.Create(map[string]interface{}{"value": 0}, &created)
		s.Require().NoError(err)
		id := created.Item["id"].(string)
		ids = append(ids, id)
		expected[id] = append(expected[id], 0)
	}
	for i := 1; i <= 50; i++ {
		id := ids[rand.Intn(len(ids))]
		_, err := counters.Item(id).Update(map[string]interface{}{"value": i}, nil)
		s.Require().NoError(err)
		expected[id] = append(expected[id], float64(i))
	}

	received := map[string][]float64{}
	total := 0
	for partition := 0; partition < partitions; partition++ {
		reader := kafka.NewReader(kafka.ReaderConfig{
			Brokers:   []string{s.kafkaAddr},
			Topic:     topic,
			Partition: partition,
		})
		for {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			m, err := reader.ReadMessage(ctx)
			cancel()
			if err != nil {
				break
			}
			var message struct {
				Entity    string `json:"entity"`
				Operation string `json:"operation"`
				Item      struct {
					Value float64 `json:"value"`
				} `json:"item"`
			}
			s.Require().NoError(json.Unmarshal(m.Value, &message))
			s.Equal("counters", message.Entity)
			received[string(m.Key)] = append(received[string(m.Key)], message.Item.Value)
			total++
		}
		s.NoError(reader.Close())
	}
	s.Equal(55, total)
	s.Equal(expected, received)
}
