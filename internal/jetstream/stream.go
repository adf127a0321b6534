package jetstream

import (
	"errors"
	"strings"
	"time"

	nats "github.com/nats-io/nats.go"
)

const (
	StreamName    = "CHATKIT"
	SubjectPrefix = "chatkit.exchange."
	// ExchangeSubjects matches every frame and done subject.
	ExchangeSubjects = SubjectPrefix + ">"

	doneSuffix = ".done"
)

func EnsureStream(js nats.JetStreamContext) error {
	_, err := js.AddStream(&nats.StreamConfig{
		Name:      StreamName,
		Subjects:  []string{"chatkit.>"},
		Storage:   nats.FileStorage,
		MaxAge:    24 * time.Hour,
		Retention: nats.WorkQueuePolicy,
	})
	if err != nil && !errors.Is(err, nats.ErrStreamNameAlreadyInUse) && !strings.Contains(err.Error(), "already exists") {
		return err
	}
	return nil
}

func FrameSubject(exchangeID string) string {
	return SubjectPrefix + exchangeID
}

func DoneSubject(exchangeID string) string {
	return SubjectPrefix + exchangeID + doneSuffix
}

// ParseSubject extracts the exchange id from a frame or done subject.
func ParseSubject(subject string) (exchangeID string, done bool, ok bool) {
	rest, found := strings.CutPrefix(subject, SubjectPrefix)
	if !found || rest == "" {
		return "", false, false
	}
	if id, isDone := strings.CutSuffix(rest, doneSuffix); isDone {
		return id, true, id != ""
	}
	return rest, false, true
}
