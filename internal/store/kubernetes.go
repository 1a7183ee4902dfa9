package store

import (
	"context"
	"fmt"
	"sort"
	"strings"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/yaml"

	"autoconf/pkg/logging"
)

const (
	// ManagedByLabel marks ConfigMaps owned by the Kubernetes store.
	ManagedByLabel = "app.kubernetes.io/managed-by"

	// ManagedByValue is the value of ManagedByLabel.
	ManagedByValue = "autoconf"

	// RecordIDAnnotation holds the record ID, which may not be a valid
	// object name.
	RecordIDAnnotation = "autoconf.io/record-id"

	// TargetAnnotation holds the record target.
	TargetAnnotation = "autoconf.io/target"

	// PropertiesKey is the ConfigMap data key holding the YAML encoded
	// properties.
	PropertiesKey = "properties.yaml"
)

// KubernetesStore keeps each record as a ConfigMap. The record scope is
// the namespace; unscoped records go to the store's default namespace.
type KubernetesStore struct {
	client           client.Client
	defaultNamespace string
}

// NewKubernetesStore creates a store using c.
func NewKubernetesStore(c client.Client, defaultNamespace string) *KubernetesStore {
	if defaultNamespace == "" {
		defaultNamespace = "default"
	}
	return &KubernetesStore{client: c, defaultNamespace: defaultNamespace}
}

func (s *KubernetesStore) Create(ctx context.Context, target, scope string, isTemplate bool) (Record, error) {
	if target == "" {
		return Record{}, fmt.Errorf("target cannot be empty")
	}

	rec := Record{ID: NewRecordID(target, isTemplate), Target: target, Scope: scope}
	key := s.objectKey(rec)

	if !isTemplate {
		existing := &corev1.ConfigMap{}
		err := s.client.Get(ctx, key, existing)
		if err == nil {
			return recordFromConfigMap(existing, scope), nil
		}
		if !apierrors.IsNotFound(err) {
			return Record{}, fmt.Errorf("%w: get ConfigMap %s: %v", ErrUnavailable, key, err)
		}
	}

	cm := &corev1.ConfigMap{
		ObjectMeta: metav1.ObjectMeta{
			Name:      key.Name,
			Namespace: key.Namespace,
			Labels: map[string]string{
				ManagedByLabel: ManagedByValue,
			},
			Annotations: map[string]string{
				RecordIDAnnotation: rec.ID,
				TargetAnnotation:   target,
			},
		},
	}
	if err := s.client.Create(ctx, cm); err != nil {
		if apierrors.IsAlreadyExists(err) && !isTemplate {
			return rec, nil
		}
		return Record{}, fmt.Errorf("%w: create ConfigMap %s: %v", ErrUnavailable, key, err)
	}

	logging.Debug("KubernetesStore", "Created ConfigMap %s for record %s", key, rec.ID)
	return rec, nil
}

func (s *KubernetesStore) Update(ctx context.Context, rec Record, props map[string]any) error {
	key := s.objectKey(rec)

	cm := &corev1.ConfigMap{}
	if err := s.client.Get(ctx, key, cm); err != nil {
		if apierrors.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
		}
		return fmt.Errorf("%w: get ConfigMap %s: %v", ErrUnavailable, key, err)
	}

	data, err := yaml.Marshal(props)
	if err != nil {
		return fmt.Errorf("failed to encode properties of %s: %w", rec.ID, err)
	}
	if cm.Data == nil {
		cm.Data = make(map[string]string, 1)
	}
	cm.Data[PropertiesKey] = string(data)

	if err := s.client.Update(ctx, cm); err != nil {
		return fmt.Errorf("%w: update ConfigMap %s: %v", ErrUnavailable, key, err)
	}
	return nil
}

func (s *KubernetesStore) Delete(ctx context.Context, rec Record) error {
	key := s.objectKey(rec)

	cm := &corev1.ConfigMap{ObjectMeta: metav1.ObjectMeta{Name: key.Name, Namespace: key.Namespace}}
	if err := s.client.Delete(ctx, cm); err != nil {
		if apierrors.IsNotFound(err) {
			return fmt.Errorf("%w: %s", ErrNotFound, rec.ID)
		}
		return fmt.Errorf("%w: delete ConfigMap %s: %v", ErrUnavailable, key, err)
	}

	logging.Debug("KubernetesStore", "Deleted ConfigMap %s for record %s", key, rec.ID)
	return nil
}

// List returns all managed records across namespaces, ordered by ID.
func (s *KubernetesStore) List(ctx context.Context) ([]Snapshot, error) {
	list := &corev1.ConfigMapList{}
	if err := s.client.List(ctx, list, client.MatchingLabels{ManagedByLabel: ManagedByValue}); err != nil {
		return nil, fmt.Errorf("%w: list ConfigMaps: %v", ErrUnavailable, err)
	}

	out := make([]Snapshot, 0, len(list.Items))
	for i := range list.Items {
		cm := &list.Items[i]
		snap := Snapshot{Record: recordFromConfigMap(cm, cm.Namespace)}
		if raw, ok := cm.Data[PropertiesKey]; ok {
			if err := yaml.Unmarshal([]byte(raw), &snap.Properties); err != nil {
				logging.Warn("KubernetesStore", "Skipping ConfigMap %s/%s with undecodable properties: %v",
					cm.Namespace, cm.Name, err)
				continue
			}
		}
		out = append(out, snap)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (s *KubernetesStore) objectKey(rec Record) client.ObjectKey {
	ns := rec.Scope
	if ns == "" {
		ns = s.defaultNamespace
	}
	return client.ObjectKey{Namespace: ns, Name: ObjectName(rec.ID)}
}

func recordFromConfigMap(cm *corev1.ConfigMap, scope string) Record {
	id := cm.Annotations[RecordIDAnnotation]
	if id == "" {
		id = cm.Name
	}
	return Record{ID: id, Target: cm.Annotations[TargetAnnotation], Scope: scope}
}

// ObjectName maps a record ID onto a valid ConfigMap name: lower case
// alphanumerics, '-' and '.', at most 253 characters.
func ObjectName(id string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= '0' && r <= '9', r == '-', r == '.':
			return r
		case r >= 'A' && r <= 'Z':
			return r + ('a' - 'A')
		}
		return '-'
	}, id)

	if len(name) > 253 {
		name = name[:253]
	}
	name = strings.Trim(name, "-.")
	if name == "" {
		name = "unnamed"
	}
	return name
}
