package remote

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"sort"
	"time"

	"github.com/Azure/azure-sdk-for-go/sdk/azcore"
	"github.com/Azure/azure-sdk-for-go/sdk/azcore/policy"
	"github.com/Azure/azure-sdk-for-go/sdk/data/aztables"
	"github.com/bytedance/sonic"
	"github.com/google/uuid"

	"task-client/domain"
)

const (
	defaultTaskPartition = "tasks"
	edmInt64             = "Edm.Int64"
)

// entityTable is the slice of the table API the backend relies on.
type entityTable interface {
	List(ctx context.Context, partition string) ([][]byte, error)
	Get(ctx context.Context, pk, rk string) ([]byte, azcore.ETag, error)
	Add(ctx context.Context, entity []byte) error
	Replace(ctx context.Context, entity []byte, etag azcore.ETag) error
	Delete(ctx context.Context, pk, rk string) error
}

// TableBackend implements Port directly on an Azure Table. It takes the role of
// the task service: it assigns ids, stamps timestamps and applies draft defaults.
type TableBackend struct {
	table     entityTable
	partition string
	now       func() time.Time
}

var _ Port = (*TableBackend)(nil)

// NewTableBackend connects to tableName using the storage connection string.
func NewTableBackend(connStr, tableName, partition string) (*TableBackend, error) {
	opts := aztables.ClientOptions{
		ClientOptions: azcore.ClientOptions{
			// Retry policy belongs to the caller.
			Retry: policy.RetryOptions{MaxRetries: -1, TryTimeout: 30 * time.Second},
		},
	}
	svc, err := aztables.NewServiceClientFromConnectionString(connStr, &opts)
	if err != nil {
		return nil, err
	}
	return newTableBackend(azTable{svc.NewClient(tableName)}, partition), nil
}

func newTableBackend(table entityTable, partition string) *TableBackend {
	if partition == "" {
		partition = defaultTaskPartition
	}
	return &TableBackend{table: table, partition: partition, now: time.Now}
}

type tableEntity struct {
	PartitionKey  string `json:"PartitionKey"`
	RowKey        string `json:"RowKey"`
	Title         string `json:"Title"`
	Description   string `json:"Description"`
	Status        string `json:"Status"`
	Priority      string `json:"Priority"`
	DueDate       string `json:"DueDate"`
	CreatedAt     int64  `json:"CreatedAt,string"`
	CreatedAtType string `json:"CreatedAt@odata.type"`
	UpdatedAt     int64  `json:"UpdatedAt,string"`
	UpdatedAtType string `json:"UpdatedAt@odata.type"`
}

func encodeTaskEntity(partition string, t domain.Task) ([]byte, error) {
	return sonic.Marshal(tableEntity{
		PartitionKey:  partition,
		RowKey:        t.ID.String(),
		Title:         t.Title,
		Description:   t.Description,
		Status:        string(t.Status),
		Priority:      string(t.Priority),
		DueDate:       string(t.DueDate),
		CreatedAt:     t.CreatedAt.UnixMilli(),
		CreatedAtType: edmInt64,
		UpdatedAt:     t.UpdatedAt.UnixMilli(),
		UpdatedAtType: edmInt64,
	})
}

func decodeTaskEntity(data []byte) (domain.Task, error) {
	var ent tableEntity
	if err := sonic.Unmarshal(data, &ent); err != nil {
		return domain.Task{}, err
	}
	status, err := domain.ParseStatus(ent.Status)
	if err != nil {
		return domain.Task{}, err
	}
	priority, err := domain.ParsePriority(ent.Priority)
	if err != nil {
		return domain.Task{}, err
	}
	return domain.Task{
		ID:          domain.ID(ent.RowKey),
		Title:       ent.Title,
		Description: ent.Description,
		Status:      status,
		Priority:    priority,
		DueDate:     domain.Date(ent.DueDate),
		CreatedAt:   domain.Timestamp{Time: time.UnixMilli(ent.CreatedAt).UTC()},
		UpdatedAt:   domain.Timestamp{Time: time.UnixMilli(ent.UpdatedAt).UTC()},
	}, nil
}

func (b *TableBackend) ListTasks(ctx context.Context) ([]domain.Task, error) {
	rows, err := b.table.List(ctx, b.partition)
	if err != nil {
		return nil, tableError("ListTasks", err)
	}
	tasks := make([]domain.Task, 0, len(rows))
	for _, row := range rows {
		t, err := decodeTaskEntity(row)
		if err != nil {
			return nil, &Error{Kind: KindServer, Op: "ListTasks", Message: "decode entity", Err: err}
		}
		tasks = append(tasks, t)
	}
	sort.SliceStable(tasks, func(i, j int) bool { return tasks[i].CreatedAt.Before(tasks[j].CreatedAt.Time) })
	return tasks, nil
}

func (b *TableBackend) GetTask(ctx context.Context, id domain.ID) (domain.Task, error) {
	t, _, err := b.load(ctx, "GetTask", id)
	return t, err
}

func (b *TableBackend) CreateTask(ctx context.Context, draft domain.Draft) (domain.Task, error) {
	if err := draft.Validate(); err != nil {
		return domain.Task{}, NewValidationError("CreateTask", err)
	}
	draft = draft.Normalize()
	now := domain.Timestamp{Time: b.now().UTC()}
	t := domain.Task{
		ID:          domain.ID(uuid.NewString()),
		Title:       draft.Title,
		Description: draft.Description,
		Status:      draft.Status,
		Priority:    draft.Priority,
		DueDate:     draft.DueDate,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	payload, err := encodeTaskEntity(b.partition, t)
	if err != nil {
		return domain.Task{}, &Error{Kind: KindValidation, Op: "CreateTask", Message: "encode entity", Err: err}
	}
	if err := b.table.Add(ctx, payload); err != nil {
		return domain.Task{}, tableError("CreateTask", err)
	}
	return t, nil
}

func (b *TableBackend) UpdateTask(ctx context.Context, id domain.ID, draft domain.Draft) (domain.Task, error) {
	if err := draft.Validate(); err != nil {
		return domain.Task{}, NewValidationError("UpdateTask", err)
	}
	return b.modify(ctx, "UpdateTask", id, func(t *domain.Task) {
		t.Title = draft.Title
		t.Description = draft.Description
		t.DueDate = draft.DueDate
		if draft.Status != "" {
			t.Status = draft.Status
		}
		if draft.Priority != "" {
			t.Priority = draft.Priority
		}
	})
}

func (b *TableBackend) DeleteTask(ctx context.Context, id domain.ID) error {
	if _, _, err := b.load(ctx, "DeleteTask", id); err != nil {
		return err
	}
	if err := b.table.Delete(ctx, b.partition, id.String()); err != nil {
		return tableError("DeleteTask", err)
	}
	return nil
}

func (b *TableBackend) SetStatus(ctx context.Context, id domain.ID, status domain.Status) (domain.Task, error) {
	if !status.Valid() {
		return domain.Task{}, NewValidationError("SetStatus", fmt.Errorf("%w: %q", domain.ErrUnknownStatus, string(status)))
	}
	return b.modify(ctx, "SetStatus", id, func(t *domain.Task) { t.Status = status })
}

func (b *TableBackend) SetPriority(ctx context.Context, id domain.ID, priority domain.Priority) (domain.Task, error) {
	if !priority.Valid() {
		return domain.Task{}, NewValidationError("SetPriority", fmt.Errorf("%w: %q", domain.ErrUnknownPriority, string(priority)))
	}
	return b.modify(ctx, "SetPriority", id, func(t *domain.Task) { t.Priority = priority })
}

func (b *TableBackend) load(ctx context.Context, op string, id domain.ID) (domain.Task, azcore.ETag, error) {
	data, etag, err := b.table.Get(ctx, b.partition, id.String())
	if err != nil {
		return domain.Task{}, "", tableError(op, err)
	}
	t, err := decodeTaskEntity(data)
	if err != nil {
		return domain.Task{}, "", &Error{Kind: KindServer, Op: op, Message: "decode entity", Err: err}
	}
	return t, etag, nil
}

// modify applies fn to the stored task and writes it back guarded by its ETag,
// so a concurrent writer surfaces as a validation failure instead of being lost.
func (b *TableBackend) modify(ctx context.Context, op string, id domain.ID, fn func(*domain.Task)) (domain.Task, error) {
	t, etag, err := b.load(ctx, op, id)
	if err != nil {
		return domain.Task{}, err
	}
	fn(&t)
	now := b.now().UTC()
	if now.Before(t.CreatedAt.Time) {
		now = t.CreatedAt.Time
	}
	t.UpdatedAt = domain.Timestamp{Time: now}
	payload, err := encodeTaskEntity(b.partition, t)
	if err != nil {
		return domain.Task{}, &Error{Kind: KindValidation, Op: op, Message: "encode entity", Err: err}
	}
	if err := b.table.Replace(ctx, payload, etag); err != nil {
		return domain.Task{}, tableError(op, err)
	}
	return t, nil
}

func tableError(op string, err error) error {
	var respErr *azcore.ResponseError
	if !errors.As(err, &respErr) {
		return &Error{Kind: KindNetwork, Op: op, Message: "table request failed", Err: err}
	}
	kind := KindServer
	switch respErr.StatusCode {
	case http.StatusNotFound:
		kind = KindNotFound
	case http.StatusBadRequest, http.StatusConflict, http.StatusPreconditionFailed:
		kind = KindValidation
	}
	return &Error{
		Kind:       kind,
		Op:         op,
		StatusCode: respErr.StatusCode,
		Message:    "table: " + respErr.ErrorCode,
		Err:        err,
	}
}

// azTable adapts *aztables.Client to entityTable.
type azTable struct {
	client *aztables.Client
}

func (t azTable) List(ctx context.Context, partition string) ([][]byte, error) {
	filter := "PartitionKey eq '" + partition + "'"
	pager := t.client.NewListEntitiesPager(&aztables.ListEntitiesOptions{Filter: &filter})
	var rows [][]byte
	for pager.More() {
		resp, err := pager.NextPage(ctx)
		if err != nil {
			return nil, err
		}
		rows = append(rows, resp.Entities...)
	}
	return rows, nil
}

func (t azTable) Get(ctx context.Context, pk, rk string) ([]byte, azcore.ETag, error) {
	resp, err := t.client.GetEntity(ctx, pk, rk, nil)
	if err != nil {
		return nil, "", err
	}
	return resp.Value, resp.ETag, nil
}

func (t azTable) Add(ctx context.Context, entity []byte) error {
	_, err := t.client.AddEntity(ctx, entity, nil)
	return err
}

func (t azTable) Replace(ctx context.Context, entity []byte, etag azcore.ETag) error {
	_, err := t.client.UpdateEntity(ctx, entity, &aztables.UpdateEntityOptions{IfMatch: &etag, UpdateMode: aztables.UpdateModeReplace})
	return err
}

func (t azTable) Delete(ctx context.Context, pk, rk string) error {
	_, err := t.client.DeleteEntity(ctx, pk, rk, nil)
	return err
}
