package broker

import (
	"hash/fnv"
	"regexp"

	"github.com/pkg/errors"

	"github.com/G-Research/testcluster/pkg/clustererrors"
)

var validTopicName = regexp.MustCompile(`^[A-Za-z0-9_-]{1,200}$`)

// ValidateTopicName rejects names that can not be used as a stream name.
func ValidateTopicName(name string) error {
	if !validTopicName.MatchString(name) {
		return errors.WithStack(&clustererrors.ErrInvalidArgument{
			Name:    "topic",
			Value:   name,
			Message: "topic names may only contain letters, digits, '-' and '_'",
		})
	}
	return nil
}

// Subject is the subject records of a topic are published on.
func Subject(topic string) string {
	return "topics." + topic
}

// LeaderFor picks the broker that stores a topic. ids must be non-empty; the same name and ids
// always give the same leader.
func LeaderFor(topic string, ids []int) int {
	h := fnv.New32a()
	_, _ = h.Write([]byte(topic))
	return ids[int(h.Sum32()%uint32(len(ids)))]
}
