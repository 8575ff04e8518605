package kafka

import (
	"errors"
	"strconv"
	"strings"
	"time"

	"github.com/IBM/sarama"
)

type TopicAdminConfig struct {
	Brokers  []string
	ClientID string
}

// TopicSpec 需要存在的 topic
type TopicSpec struct {
	Name              string
	Partitions        int32
	ReplicationFactor int16
	Retention         time.Duration
}

// EnsureTopics 创建缺失的 topic，已存在的保持不变
func EnsureTopics(cfg TopicAdminConfig, specs ...TopicSpec) error {
	if len(cfg.Brokers) == 0 {
		return errors.New("kafka brokers is empty")
	}

	sc := sarama.NewConfig()
	sc.Version = sarama.V2_8_0_0
	sc.ClientID = strings.TrimSpace(cfg.ClientID)

	admin, err := sarama.NewClusterAdmin(cfg.Brokers, sc)
	if err != nil {
		return err
	}
	defer admin.Close()

	existing, err := admin.ListTopics()
	if err != nil {
		return err
	}
	for _, spec := range specs {
		name := strings.TrimSpace(spec.Name)
		if name == "" {
			return errors.New("kafka topic is empty")
		}
		if _, ok := existing[name]; ok {
			continue
		}
		if err := admin.CreateTopic(name, topicDetail(spec), false); err != nil && !errors.Is(err, sarama.ErrTopicAlreadyExists) {
			return err
		}
	}
	return nil
}

func topicDetail(spec TopicSpec) *sarama.TopicDetail {
	partitions := spec.Partitions
	if partitions <= 0 {
		partitions = 1
	}
	replication := spec.ReplicationFactor
	if replication <= 0 {
		replication = 1
	}
	retention := spec.Retention
	if retention <= 0 {
		retention = 7 * 24 * time.Hour
	}
	return &sarama.TopicDetail{
		NumPartitions:     partitions,
		ReplicationFactor: replication,
		ConfigEntries: map[string]*string{
			"retention.ms": strPtr(strconv.FormatInt(retention.Milliseconds(), 10)),
		},
	}
}

func strPtr(v string) *string {
	s := v
	return &s
}
