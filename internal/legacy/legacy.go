// Package legacy reads and writes the task list of the early single-file
// app, which stored every task as one JSON array under a single key.
package legacy

import (
	"context"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/santhosh-tekuri/jsonschema/v5"

	"mytasks/internal/domain"
)

//go:embed schema.json
var schemaJSON string

const schemaURL = "legacy-tasks.json"

// Task is one entry of the stored array.
type Task struct {
	ID        string     `json:"id"`
	Text      string     `json:"text"`
	Completed bool       `json:"completed"`
	Priority  string     `json:"priority,omitempty"`
	CreatedAt time.Time  `json:"createdAt"`
	DueDate   *time.Time `json:"dueDate,omitempty"`
}

// Key is the storage key of a user's task list.
func Key(userID string) string { return "@tasks:" + userID }

type Store struct {
	kv     KV
	schema *jsonschema.Schema
}

func NewStore(kv KV) (*Store, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true
	if err := compiler.AddResource(schemaURL, strings.NewReader(schemaJSON)); err != nil {
		return nil, fmt.Errorf("add legacy schema: %w", err)
	}
	schema, err := compiler.Compile(schemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile legacy schema: %w", err)
	}
	return &Store{kv: kv, schema: schema}, nil
}

// Load returns the list stored under key. A missing key is an empty list.
func (s *Store) Load(ctx context.Context, key string) ([]Task, error) {
	data, err := s.kv.Get(ctx, key)
	if errors.Is(err, ErrKeyNotFound) {
		return []Task{}, nil
	}
	if err != nil {
		return nil, fmt.Errorf("read %s: %w", key, err)
	}

	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	if err := s.schema.Validate(raw); err != nil {
		return nil, schemaError(key, err)
	}

	var tasks []Task
	if err := json.Unmarshal(data, &tasks); err != nil {
		return nil, fmt.Errorf("decode %s: %w", key, err)
	}
	return tasks, nil
}

// Save replaces the whole list stored under key.
func (s *Store) Save(ctx context.Context, key string, tasks []Task) error {
	if tasks == nil {
		tasks = []Task{}
	}
	data, err := json.Marshal(tasks)
	if err != nil {
		return err
	}
	if err := s.kv.Set(ctx, key, data); err != nil {
		return fmt.Errorf("write %s: %w", key, err)
	}
	return nil
}

func schemaError(key string, err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return fmt.Errorf("validate %s: %w", key, err)
	}
	var msgs []string
	collectCauses(ve, &msgs)
	return fmt.Errorf("validate %s: %s", key, strings.Join(msgs, "; "))
}

func collectCauses(ve *jsonschema.ValidationError, msgs *[]string) {
	if len(ve.Causes) == 0 {
		loc := ve.InstanceLocation
		if loc == "" {
			loc = "/"
		}
		*msgs = append(*msgs, loc+": "+ve.Message)
		return
	}
	for _, cause := range ve.Causes {
		collectCauses(cause, msgs)
	}
}

// ToTask converts a stored entry into a task owned by userID. Entries
// without a due date are due one day after creation.
// TaskID derives a stable task id from a legacy entry so importing the same
// list twice yields the same ids.
func TaskID(userID, legacyID string) string {
	return "tsk_" + uuid.NewSHA1(uuid.NameSpaceOID, []byte(userID+"/"+legacyID)).String()
}

func ToTask(lt Task, userID string) domain.Task {
	t := domain.Task{
		ID:        TaskID(userID, lt.ID),
		UserID:    userID,
		Title:     strings.TrimSpace(lt.Text),
		Completed: lt.Completed,
		Priority:  domain.Priority(lt.Priority),
		CreatedAt: lt.CreatedAt,
	}
	if !t.Priority.Valid() {
		t.Priority = domain.PriorityMedium
	}
	if t.CreatedAt.IsZero() {
		t.CreatedAt = time.Now()
	}
	if lt.DueDate != nil {
		t.DueDate = *lt.DueDate
	} else {
		t.DueDate = t.CreatedAt.Add(24 * time.Hour)
	}
	return t
}

func FromTask(t domain.Task) Task {
	due := t.DueDate
	return Task{
		ID:        t.ID,
		Text:      t.Title,
		Completed: t.Completed,
		Priority:  string(t.Priority),
		CreatedAt: t.CreatedAt,
		DueDate:   &due,
	}
}
