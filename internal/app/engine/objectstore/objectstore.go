// Package objectstore implements the object-store service engine: buckets
// of opaque-body objects, lexicographic listing, tagging, and asynchronous
// put/delete notifications.
//
// Grounded on _examples/original_source/src/lws/providers/s3/provider.py
// (S3Provider): a bucket owns its objects, put/delete notify an in-process
// dispatcher matched by event-type glob + key prefix/suffix, listing sorts
// by key. The source backs objects with the filesystem; spec.md section 1
// places durability out of scope, so this engine holds bodies in memory
// only (a pluggable durable layer is a different component).
package objectstore

import (
	"path"
	"sort"
	"strings"
	"sync"
	"time"

	apperrors "github.com/corestack-dev/corestack/internal/errors"
)

// Object is one opaque-body item owned by exactly one bucket.
type Object struct {
	Key         string
	Body        []byte
	ContentType string
	Headers     map[string]string
	Tags        map[string]string
	ModifiedAt  time.Time
}

// NotificationSubscription matches put/delete events by event-type glob
// (e.g. "ObjectCreated:*") and key prefix/suffix.
type NotificationSubscription struct {
	ID           string
	EventGlob    string
	PrefixFilter string
	SuffixFilter string
	Handler      func(Notification)
}

// Notification is the single-record change envelope delivered to a
// matching subscription after a successful put or delete.
type Notification struct {
	EventType string
	Bucket    string
	Key       string
	Size      int
	EventTime time.Time
}

type bucket struct {
	mu      sync.RWMutex
	objects map[string]*Object
	tags    map[string]string
	policy  string
	subs    []NotificationSubscription
}

func newBucket() *bucket {
	return &bucket{objects: make(map[string]*Object)}
}

// Engine owns every bucket.
type Engine struct {
	mu      sync.RWMutex
	buckets map[string]*bucket
}

// New constructs an empty object-store engine.
func New() *Engine {
	return &Engine{buckets: make(map[string]*bucket)}
}

// CreateBucket declares a bucket. Re-declaring an existing name is
// idempotent.
func (e *Engine) CreateBucket(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buckets[name]; ok {
		return nil
	}
	e.buckets[name] = newBucket()
	return nil
}

// DeleteBucket removes a bucket and every object it owns.
func (e *Engine) DeleteBucket(name string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if _, ok := e.buckets[name]; !ok {
		return apperrors.NotFound("NoSuchBucket", "bucket does not exist: "+name)
	}
	delete(e.buckets, name)
	return nil
}

// ListBuckets returns every bucket name, sorted.
func (e *Engine) ListBuckets() []string {
	e.mu.RLock()
	defer e.mu.RUnlock()
	names := make([]string, 0, len(e.buckets))
	for name := range e.buckets {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

func (e *Engine) lookup(name string) (*bucket, error) {
	e.mu.RLock()
	b, ok := e.buckets[name]
	e.mu.RUnlock()
	if !ok {
		return nil, apperrors.NotFound("NoSuchBucket", "bucket does not exist: "+name)
	}
	return b, nil
}

// Subscribe registers a notification subscription on a bucket.
func (e *Engine) Subscribe(bucketName string, sub NotificationSubscription) error {
	b, err := e.lookup(bucketName)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.subs = append(b.subs, sub)
	b.mu.Unlock()
	return nil
}

// Put stores body under key, replacing any existing object, and dispatches
// matching notification subscriptions asynchronously.
func (e *Engine) Put(bucketName, key string, body []byte, contentType string, headers, tags map[string]string) error {
	b, err := e.lookup(bucketName)
	if err != nil {
		return err
	}
	obj := &Object{
		Key:         key,
		Body:        append([]byte(nil), body...),
		ContentType: contentType,
		Headers:     headers,
		Tags:        tags,
		ModifiedAt:  time.Now(),
	}
	b.mu.Lock()
	b.objects[key] = obj
	subs := append([]NotificationSubscription(nil), b.subs...)
	b.mu.Unlock()

	e.notify(subs, "ObjectCreated:Put", bucketName, key, len(body))
	return nil
}

// Get returns the object at key, or (nil, false) if absent.
func (e *Engine) Get(bucketName, key string) (*Object, bool, error) {
	b, err := e.lookup(bucketName)
	if err != nil {
		return nil, false, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	obj, ok := b.objects[key]
	if !ok {
		return nil, false, nil
	}
	cp := *obj
	cp.Body = append([]byte(nil), obj.Body...)
	return &cp, true, nil
}

// Head returns an object's metadata without its body.
func (e *Engine) Head(bucketName, key string) (*Object, bool, error) {
	obj, ok, err := e.Get(bucketName, key)
	if err != nil || !ok {
		return obj, ok, err
	}
	cp := *obj
	cp.Body = nil
	return &cp, true, nil
}

// Delete removes the object at key, if present, and dispatches an
// ObjectRemoved:Delete notification.
func (e *Engine) Delete(bucketName, key string) error {
	b, err := e.lookup(bucketName)
	if err != nil {
		return err
	}
	b.mu.Lock()
	obj, existed := b.objects[key]
	delete(b.objects, key)
	subs := append([]NotificationSubscription(nil), b.subs...)
	b.mu.Unlock()

	if existed {
		size := 0
		if obj != nil {
			size = len(obj.Body)
		}
		e.notify(subs, "ObjectRemoved:Delete", bucketName, key, size)
	}
	return nil
}

// List returns objects whose key has the given prefix, lexicographically
// ordered by key.
func (e *Engine) List(bucketName, prefix string) ([]Object, error) {
	b, err := e.lookup(bucketName)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	var out []Object
	for _, obj := range b.objects {
		if strings.HasPrefix(obj.Key, prefix) {
			cp := *obj
			cp.Body = nil // listing never returns bodies
			out = append(out, cp)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out, nil
}

// PutTagging replaces a bucket's tag set.
func (e *Engine) PutTagging(bucketName string, tags map[string]string) error {
	b, err := e.lookup(bucketName)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.tags = tags
	b.mu.Unlock()
	return nil
}

// GetTagging returns a bucket's tag set.
func (e *Engine) GetTagging(bucketName string) (map[string]string, error) {
	b, err := e.lookup(bucketName)
	if err != nil {
		return nil, err
	}
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.tags, nil
}

// PutPolicy stores a bucket's policy document verbatim.
func (e *Engine) PutPolicy(bucketName, policy string) error {
	b, err := e.lookup(bucketName)
	if err != nil {
		return err
	}
	b.mu.Lock()
	b.policy = policy
	b.mu.Unlock()
	return nil
}

// Names returns the sorted bucket-name registry entries the dispatch
// fabric consults for name resolution.
func (e *Engine) Names() []string { return e.ListBuckets() }

func (e *Engine) notify(subs []NotificationSubscription, eventType, bucketName, key string, size int) {
	n := Notification{EventType: eventType, Bucket: bucketName, Key: key, Size: size, EventTime: time.Now()}
	for _, sub := range subs {
		if !matchesSubscription(sub, eventType, key) {
			continue
		}
		go sub.Handler(n)
	}
}

func matchesSubscription(sub NotificationSubscription, eventType, key string) bool {
	if !matchEventGlob(sub.EventGlob, eventType) {
		return false
	}
	if sub.PrefixFilter != "" && !strings.HasPrefix(key, sub.PrefixFilter) {
		return false
	}
	if sub.SuffixFilter != "" && !strings.HasSuffix(key, sub.SuffixFilter) {
		return false
	}
	return true
}

// matchEventGlob supports the single wildcard shape the wire dialect uses:
// an exact match, or a "Prefix:*" pattern matching any "Prefix:Suffix".
func matchEventGlob(glob, eventType string) bool {
	if glob == "" || glob == "*" {
		return true
	}
	if !strings.Contains(glob, "*") {
		return glob == eventType
	}
	matched, err := path.Match(glob, eventType)
	return err == nil && matched
}
