package consumer

import (
	"context"
	"encoding/json"
	"errors"
	"testing"
	"time"

	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/indexer"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/internal/store"
	apperrors "github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/simplesearch/pkg/kafka"
)

type executorFunc func(ctx context.Context, task indexer.ReindexTask) error

func (f executorFunc) ExecuteTask(ctx context.Context, task indexer.ReindexTask) error {
	return f(ctx, task)
}

func message(t *testing.T, task indexer.ReindexTask, headers map[string]string) kafka.Message {
	t.Helper()
	raw, err := json.Marshal(task)
	if err != nil {
		t.Fatal(err)
	}
	return kafka.Message{Topic: "index-tasks.default", Key: []byte(task.Record.String()), Value: raw, Headers: headers}
}

func TestHandleMessage(t *testing.T) {
	task := indexer.ReindexTask{
		ID:     "t1",
		Record: store.Owner{Collection: "docs", Key: "1"},
		Fields: []string{"body"},
		Values: map[string][]string{"body": {"melon"}},
	}
	transient := errors.New("db unavailable")

	tests := []struct {
		name    string
		msg     func(t *testing.T) kafka.Message
		execErr error
		wantErr bool
		wantRun bool
	}{
		{
			name:    "success",
			msg:     func(t *testing.T) kafka.Message { return message(t, task, nil) },
			wantRun: true,
		},
		{
			name:    "poison message is skipped",
			msg:     func(*testing.T) kafka.Message { return kafka.Message{Value: []byte("{not json")} },
			wantRun: false,
		},
		{
			name:    "configuration error is dropped",
			msg:     func(t *testing.T) kafka.Message { return message(t, task, nil) },
			execErr: apperrors.Configf("bad field"),
			wantRun: true,
		},
		{
			name:    "transient error is redelivered",
			msg:     func(t *testing.T) kafka.Message { return message(t, task, nil) },
			execErr: transient,
			wantErr: true,
			wantRun: true,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ran := false
			h := HandleMessage(executorFunc(func(_ context.Context, got indexer.ReindexTask) error {
				ran = true
				if got.ID != task.ID || got.Values["body"][0] != "melon" {
					t.Errorf("task = %+v", got)
				}
				return tt.execErr
			}), time.Second)

			err := h(context.Background(), tt.msg(t))
			if (err != nil) != tt.wantErr {
				t.Errorf("err = %v, wantErr %v", err, tt.wantErr)
			}
			if ran != tt.wantRun {
				t.Errorf("ran = %v, want %v", ran, tt.wantRun)
			}
		})
	}
}

func TestHandleMessageQueueFromHeader(t *testing.T) {
	var queue string
	h := HandleMessage(executorFunc(func(_ context.Context, got indexer.ReindexTask) error {
		queue = got.Queue
		return nil
	}), 0)
	task := indexer.ReindexTask{ID: "t2", Record: store.Owner{Collection: "docs", Key: "2"}}
	if err := h(context.Background(), message(t, task, map[string]string{"queue": "bulk"})); err != nil {
		t.Fatal(err)
	}
	if queue != "bulk" {
		t.Errorf("queue = %q, want bulk", queue)
	}
}
