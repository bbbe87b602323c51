package table

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	core "github.com/corestack-dev/corestack/internal/app/core/service"
	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// defaultQueryLimit and maxQueryLimit bound Query/Scan page sizes the way
// DynamoDB's own Limit request field does.
const (
	defaultQueryLimit = 100
	maxQueryLimit     = 1000
)

// KeySchema describes a table's primary key: a required partition key and
// an optional sort key.
type KeySchema struct {
	PartitionKey string
	SortKey      string // empty means the table has no sort key
}

func (k KeySchema) compositeKey(item Item) (string, error) {
	pk, ok := item[k.PartitionKey]
	if !ok {
		return "", apperrors.Validation("ValidationException", "item missing partition key "+k.PartitionKey)
	}
	parts := []string{scalarKeyString(pk)}
	if k.SortKey != "" {
		sk, ok := item[k.SortKey]
		if !ok {
			return "", apperrors.Validation("ValidationException", "item missing sort key "+k.SortKey)
		}
		parts = append(parts, scalarKeyString(sk))
	}
	return strings.Join(parts, "\x00"), nil
}

func scalarKeyString(v AttributeValue) string {
	switch v.Kind {
	case KindString:
		return "S:" + v.S
	case KindNumber:
		return "N:" + v.N
	default:
		return "?:"
	}
}

func keyOf(item Item, schema KeySchema) Item {
	key := Item{schema.PartitionKey: item[schema.PartitionKey]}
	if schema.SortKey != "" {
		key[schema.SortKey] = item[schema.SortKey]
	}
	return key
}

// Table is one named table: its key schema and the items it owns.
type Table struct {
	Name   string
	Schema KeySchema

	mu    sync.RWMutex
	items map[string]Item
}

func newTable(name string, schema KeySchema) *Table {
	return &Table{Name: name, Schema: schema, items: make(map[string]Item)}
}

// Engine owns every table and the shared change-stream dispatcher.
type Engine struct {
	mu         sync.RWMutex
	tables     map[string]*Table
	dispatcher *Dispatcher
}

// New constructs a table engine backed by the given dispatcher. The
// dispatcher is started and stopped by the engine's owner (the lifecycle
// supervisor), not by the engine itself.
func New(dispatcher *Dispatcher) *Engine {
	return &Engine{
		tables:     make(map[string]*Table),
		dispatcher: dispatcher,
	}
}

// CreateTable declares a table. Re-declaring an existing name with the
// same schema is idempotent.
func (e *Engine) CreateTable(name string, schema KeySchema, stream *StreamConfig) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tables[name]; ok {
		return nil
	}
	e.tables[name] = newTable(name, schema)
	if stream != nil {
		e.dispatcher.Configure(name, *stream)
	}
	return nil
}

// DeleteTable removes a table and all of its items.
func (e *Engine) DeleteTable(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.tables[name]; !ok {
		return apperrors.NotFound("ResourceNotFoundException", "table does not exist: "+name)
	}
	delete(e.tables, name)
	return nil
}

// Subscribe registers a change-stream subscriber for a table.
func (e *Engine) Subscribe(table string, sub Subscriber) {
	e.dispatcher.Subscribe(table, sub)
}

// Names returns every table name, sorted, for the dispatch fabric's name
// registry and the ListTables wire operation.
func (e *Engine) Names() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.tables))
	for name := range e.tables {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) lookup(name string) (*Table, error) {
	e.mu.RLock()
	t, ok := e.tables[name]
	e.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("ResourceNotFoundException", "table does not exist: "+name)
	}
	return t, nil
}

// Put upserts item, returning the prior item if one existed. It emits an
// INSERT or MODIFY change record after the write is durable in memory.
func (e *Engine) Put(tableName string, item Item) (Item, error) {
	t, err := e.lookup(tableName)
	if err != nil {
		return nil, err
	}
	ck, err := t.Schema.compositeKey(item)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	old, existed := t.items[ck]
	t.items[ck] = item.Clone()
	t.mu.Unlock()

	kind := EventInsert
	if existed {
		kind = EventModify
	}
	e.dispatcher.Emit(kind, tableName, keyOf(item, t.Schema), item, old)
	return old, nil
}

// Get returns the item for key, or (nil, false) if no item exists there.
func (e *Engine) Get(tableName string, key Item) (Item, bool, error) {
	t, err := e.lookup(tableName)
	if err != nil {
		return nil, false, err
	}
	ck, err := t.Schema.compositeKey(key)
	if err != nil {
		return nil, false, err
	}
	t.mu.RLock()
	item, ok := t.items[ck]
	t.mu.RUnlock()
	if !ok {
		return nil, false, nil
	}
	return item.Clone(), true, nil
}

// Delete removes the item at key, if present, emitting a REMOVE record.
// Deleting a non-existent key is a no-op, matching cloud behavior.
func (e *Engine) Delete(tableName string, key Item) error {
	t, err := e.lookup(tableName)
	if err != nil {
		return err
	}
	ck, err := t.Schema.compositeKey(key)
	if err != nil {
		return err
	}
	t.mu.Lock()
	old, existed := t.items[ck]
	delete(t.items, ck)
	t.mu.Unlock()

	if existed {
		e.dispatcher.Emit(EventRemove, tableName, keyOf(old, t.Schema), nil, old)
	}
	return nil
}

// Update applies an UpdateExpression to the item at key (creating it if
// absent, an upsert), evaluates an optional condition expression first,
// and returns the resulting item.
func (e *Engine) Update(tableName string, key Item, updateExpr, conditionExpr string, names map[string]string, values map[string]AttributeValue) (Item, error) {
	t, err := e.lookup(tableName)
	if err != nil {
		return nil, err
	}
	ck, err := t.Schema.compositeKey(key)
	if err != nil {
		return nil, err
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	current, existed := t.items[ck]
	if conditionExpr != "" {
		ok, err := evaluateCondition(conditionExpr, current, names, values)
		if err != nil {
			return nil, err
		}
		if !ok {
			return nil, apperrors.ConditionFailed("ConditionalCheckFailedException", "condition expression did not pass")
		}
	}

	base := current
	if !existed {
		base = key.Clone()
	}
	updated, err := ApplyUpdateExpression(base, updateExpr, &ExpressionContext{Names: names, Values: values})
	if err != nil {
		return nil, err
	}
	for k, v := range key {
		updated[k] = v
	}
	t.items[ck] = updated

	kind := EventInsert
	if existed {
		kind = EventModify
	}
	e.dispatcher.Emit(kind, tableName, keyOf(updated, t.Schema), updated, current)
	return updated.Clone(), nil
}

func evaluateCondition(expr string, item Item, names map[string]string, values map[string]AttributeValue) (bool, error) {
	node, err := ParseCondition(expr)
	if err != nil {
		return false, err
	}
	ctx := &ExpressionContext{Names: names, Values: values, Item: item}
	return node.eval(ctx)
}

// Query returns items matching a key-condition expression (evaluated
// against the partition/sort key), additionally narrowed by an optional
// filter expression applied after key matching, in partition order. limit
// caps the number of items returned; non-positive values use
// defaultQueryLimit, and the ceiling is maxQueryLimit regardless.
func (e *Engine) Query(tableName, keyCondition string, names map[string]string, values map[string]AttributeValue, filterExpr string, limit int) ([]Item, error) {
	t, err := e.lookup(tableName)
	if err != nil {
		return nil, err
	}
	keyNode, err := ParseCondition(keyCondition)
	if err != nil {
		return nil, err
	}
	var filterNode exprNode
	if filterExpr != "" {
		filterNode, err = ParseCondition(filterExpr)
		if err != nil {
			return nil, err
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var matched []Item
	for _, item := range t.items {
		ctx := &ExpressionContext{Names: names, Values: values, Item: item}
		ok, err := keyNode.eval(ctx)
		if err != nil {
			return nil, err
		}
		if !ok {
			continue
		}
		if filterNode != nil {
			ok, err := filterNode.eval(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		matched = append(matched, item.Clone())
	}
	sortByKey(matched, t.Schema)
	matched = limitItems(matched, limit)
	return matched, nil
}

// Scan returns every item in the table, optionally narrowed by a filter
// expression. limit caps the number of items returned the same way
// Query's does.
func (e *Engine) Scan(tableName, filterExpr string, names map[string]string, values map[string]AttributeValue, limit int) ([]Item, error) {
	t, err := e.lookup(tableName)
	if err != nil {
		return nil, err
	}
	var filterNode exprNode
	if filterExpr != "" {
		filterNode, err = ParseCondition(filterExpr)
		if err != nil {
			return nil, err
		}
	}

	t.mu.RLock()
	defer t.mu.RUnlock()

	var result []Item
	for _, item := range t.items {
		if filterNode != nil {
			ctx := &ExpressionContext{Names: names, Values: values, Item: item}
			ok, err := filterNode.eval(ctx)
			if err != nil {
				return nil, err
			}
			if !ok {
				continue
			}
		}
		result = append(result, item.Clone())
	}
	sortByKey(result, t.Schema)
	result = limitItems(result, limit)
	return result, nil
}

// limitItems truncates items to a clamped limit, grounded on
// core/service.ClampLimit's default/max page-size contract.
func limitItems(items []Item, limit int) []Item {
	clamped := core.ClampLimit(limit, defaultQueryLimit, maxQueryLimit)
	if len(items) <= clamped {
		return items
	}
	return items[:clamped]
}

func sortByKey(items []Item, schema KeySchema) {
	sort.Slice(items, func(i, j int) bool {
		ki := scalarKeyString(items[i][schema.PartitionKey])
		kj := scalarKeyString(items[j][schema.PartitionKey])
		if ki != kj {
			return ki < kj
		}
		if schema.SortKey == "" {
			return false
		}
		return scalarKeyString(items[i][schema.SortKey]) < scalarKeyString(items[j][schema.SortKey])
	})
}

// BatchGet fetches multiple items from one table in one call, skipping
// keys with no matching item.
func (e *Engine) BatchGet(tableName string, keys []Item) ([]Item, error) {
	var result []Item
	for _, key := range keys {
		item, ok, err := e.Get(tableName, key)
		if err != nil {
			return nil, err
		}
		if ok {
			result = append(result, item)
		}
	}
	return result, nil
}

// BatchWrite applies a set of puts and a set of deletes against one
// table in the order given.
func (e *Engine) BatchWrite(tableName string, puts []Item, deleteKeys []Item) error {
	for _, item := range puts {
		if _, err := e.Put(tableName, item); err != nil {
			return err
		}
	}
	for _, key := range deleteKeys {
		if err := e.Delete(tableName, key); err != nil {
			return err
		}
	}
	return nil
}

// TransactOpKind names one operation inside a transact-write call.
type TransactOpKind string

const (
	TransactPut            TransactOpKind = "Put"
	TransactUpdate         TransactOpKind = "Update"
	TransactDelete         TransactOpKind = "Delete"
	TransactConditionCheck TransactOpKind = "ConditionCheck"
)

// TransactWriteOp is one item of a transact-write request.
type TransactWriteOp struct {
	Kind          TransactOpKind
	Table         string
	Key           Item
	Item          Item
	UpdateExpr    string
	ConditionExpr string
	Names         map[string]string
	Values        map[string]AttributeValue
}

// TransactionCanceledError carries a per-item reason code, mirroring the
// cloud's TransactionCanceledException: "None" for operations that would
// have succeeded, "ConditionalCheckFailed" for the ones that did not.
type TransactionCanceledError struct {
	Reasons []string
}

func (e *TransactionCanceledError) Error() string {
	return fmt.Sprintf("transaction canceled: %v", e.Reasons)
}

// TransactWrite evaluates every operation's condition expression against a
// single logical checkpoint (every participating table locked for the
// duration of the call, in a fixed lock order to prevent deadlocks across
// concurrent transactions), and only executes the writes if every
// condition passes. On any failure, no write executes and the call
// returns a *TransactionCanceledError with one reason per operation.
func (e *Engine) TransactWrite(ops []TransactWriteOp) error {
	tableNames := uniqueSortedTables(ops)
	tables := make([]*Table, 0, len(tableNames))
	for _, name := range tableNames {
		t, err := e.lookup(name)
		if err != nil {
			return err
		}
		tables = append(tables, t)
	}
	for _, t := range tables {
		t.mu.Lock()
	}
	defer func() {
		for _, t := range tables {
			t.mu.Unlock()
		}
	}()

	byName := make(map[string]*Table, len(tables))
	for _, t := range tables {
		byName[t.Name] = t
	}

	reasons := make([]string, len(ops))
	allPassed := true
	for i, op := range ops {
		t := byName[op.Table]
		key := op.Key
		if op.Kind == TransactPut {
			key = keyOf(op.Item, t.Schema)
		}
		ck, err := t.Schema.compositeKey(key)
		if err != nil {
			return err
		}
		current := t.items[ck]

		if op.ConditionExpr != "" {
			ok, err := evaluateCondition(op.ConditionExpr, current, op.Names, op.Values)
			if err != nil {
				return err
			}
			if !ok {
				reasons[i] = "ConditionalCheckFailed"
				allPassed = false
				continue
			}
		}
		reasons[i] = "None"
	}

	if !allPassed {
		return &TransactionCanceledError{Reasons: reasons}
	}

	for _, op := range ops {
		t := byName[op.Table]
		switch op.Kind {
		case TransactConditionCheck:
			// already evaluated above; no data change.
		case TransactPut:
			ck, err := t.Schema.compositeKey(op.Item)
			if err != nil {
				return err
			}
			old, existed := t.items[ck]
			t.items[ck] = op.Item.Clone()
			kind := EventInsert
			if existed {
				kind = EventModify
			}
			e.dispatcher.Emit(kind, t.Name, keyOf(op.Item, t.Schema), op.Item, old)
		case TransactUpdate:
			ck, err := t.Schema.compositeKey(op.Key)
			if err != nil {
				return err
			}
			current, existed := t.items[ck]
			base := current
			if !existed {
				base = op.Key.Clone()
			}
			updated, err := ApplyUpdateExpression(base, op.UpdateExpr, &ExpressionContext{Names: op.Names, Values: op.Values})
			if err != nil {
				return err
			}
			for k, v := range op.Key {
				updated[k] = v
			}
			t.items[ck] = updated
			kind := EventInsert
			if existed {
				kind = EventModify
			}
			e.dispatcher.Emit(kind, t.Name, keyOf(updated, t.Schema), updated, current)
		case TransactDelete:
			ck, err := t.Schema.compositeKey(op.Key)
			if err != nil {
				return err
			}
			old, existed := t.items[ck]
			delete(t.items, ck)
			if existed {
				e.dispatcher.Emit(EventRemove, t.Name, keyOf(old, t.Schema), nil, old)
			}
		}
	}
	return nil
}

// TransactGetOp is one item of a transact-get request.
type TransactGetOp struct {
	Table string
	Key   Item
}

// TransactGet reads a set of items across tables under one logical
// checkpoint (every participating table locked for the duration of the
// read).
func (e *Engine) TransactGet(ops []TransactGetOp) ([]Item, error) {
	tableNames := make([]string, 0, len(ops))
	seen := make(map[string]bool)
	for _, op := range ops {
		if !seen[op.Table] {
			seen[op.Table] = true
			tableNames = append(tableNames, op.Table)
		}
	}
	sort.Strings(tableNames)

	tables := make(map[string]*Table, len(tableNames))
	ordered := make([]*Table, 0, len(tableNames))
	for _, name := range tableNames {
		t, err := e.lookup(name)
		if err != nil {
			return nil, err
		}
		tables[name] = t
		ordered = append(ordered, t)
	}
	for _, t := range ordered {
		t.mu.RLock()
	}
	defer func() {
		for _, t := range ordered {
			t.mu.RUnlock()
		}
	}()

	result := make([]Item, len(ops))
	for i, op := range ops {
		t := tables[op.Table]
		ck, err := t.Schema.compositeKey(op.Key)
		if err != nil {
			return nil, err
		}
		if item, ok := t.items[ck]; ok {
			result[i] = item.Clone()
		}
	}
	return result, nil
}

func uniqueSortedTables(ops []TransactWriteOp) []string {
	seen := make(map[string]bool)
	var names []string
	for _, op := range ops {
		if !seen[op.Table] {
			seen[op.Table] = true
			names = append(names, op.Table)
		}
	}
	sort.Strings(names)
	return names
}
