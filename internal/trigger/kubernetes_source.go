package trigger

import (
	"context"
	"fmt"
	"sync"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/labels"
	"k8s.io/apimachinery/pkg/runtime"
	utilruntime "k8s.io/apimachinery/pkg/util/runtime"
	clientgoscheme "k8s.io/client-go/kubernetes/scheme"
	"k8s.io/client-go/rest"
	toolscache "k8s.io/client-go/tools/cache"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/cache"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"autoconf/pkg/logging"
)

// TriggerLabel marks ConfigMaps that KubernetesSource publishes as
// triggers. Only ConfigMaps with this label set to "true" are watched.
const TriggerLabel = "autoconf.io/trigger"

// KubernetesSource publishes ConfigMaps as triggers using a
// controller-runtime informer.
//
// The trigger ID is "<namespace>/<name>". Attributes are the ConfigMap's
// data entries, then its labels, then "metadata.name" and
// "metadata.namespace"; later sources win on key collisions.
type KubernetesSource struct {
	*Registry

	mu sync.Mutex

	// restConfig is the Kubernetes REST configuration
	restConfig *rest.Config

	// namespace to watch (empty for all namespaces)
	namespace string

	scheme       *runtime.Scheme
	cache        cache.Cache
	cancelFunc   context.CancelFunc
	registration toolscache.ResourceEventHandlerRegistration
	running      bool
}

// NewKubernetesSource creates a source watching namespace, or every namespace
// when namespace is empty.
func NewKubernetesSource(restConfig *rest.Config, namespace string) *KubernetesSource {
	scheme := runtime.NewScheme()
	utilruntime.Must(clientgoscheme.AddToScheme(scheme))

	return &KubernetesSource{
		Registry:   NewRegistry(),
		restConfig: restConfig,
		namespace:  namespace,
		scheme:     scheme,
	}
}

// Start creates the informer, waits for its initial sync and keeps the
// registry up to date until ctx is cancelled or Stop is called.
func (s *KubernetesSource) Start(ctx context.Context) error {
	s.mu.Lock()
	if s.running {
		s.mu.Unlock()
		return nil
	}
	s.mu.Unlock()

	ctx, cancel := context.WithCancel(ctx)

	cacheOpts := cache.Options{
		Scheme: s.scheme,
		ByObject: map[client.Object]cache.ByObject{
			&corev1.ConfigMap{}: {
				Label: labels.SelectorFromSet(labels.Set{TriggerLabel: "true"}),
			},
		},
	}
	if s.namespace != "" {
		cacheOpts.DefaultNamespaces = map[string]cache.Config{
			s.namespace: {},
		}
	}

	c, err := cache.New(s.restConfig, cacheOpts)
	if err != nil {
		cancel()
		return fmt.Errorf("failed to create cache: %w", err)
	}

	informer, err := c.GetInformer(ctx, &corev1.ConfigMap{})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to get ConfigMap informer: %w", err)
	}

	registration, err := informer.AddEventHandler(toolscache.ResourceEventHandlerFuncs{
		AddFunc:    s.handleAdd,
		UpdateFunc: s.handleUpdate,
		DeleteFunc: s.handleDelete,
	})
	if err != nil {
		cancel()
		return fmt.Errorf("failed to add event handler: %w", err)
	}

	go func() {
		if err := c.Start(ctx); err != nil {
			logging.Error("KubernetesSource", err, "Cache stopped with error")
		}
	}()

	if !c.WaitForCacheSync(ctx) {
		cancel()
		return fmt.Errorf("failed to sync cache")
	}

	s.mu.Lock()
	s.cache = c
	s.cancelFunc = cancel
	s.registration = registration
	s.running = true
	s.mu.Unlock()

	logging.Info("KubernetesSource", "Watching ConfigMaps labelled %s=true in namespace: %s", TriggerLabel, s.namespaceDisplay())
	return nil
}

func (s *KubernetesSource) handleAdd(obj interface{}) {
	cm, ok := obj.(*corev1.ConfigMap)
	if !ok {
		logging.Warn("KubernetesSource", "Unexpected object in add event: %T", obj)
		return
	}
	t := ConfigMapTrigger(cm)
	s.Upsert(t.ID, t.Attributes)
}

func (s *KubernetesSource) handleUpdate(_, newObj interface{}) {
	cm, ok := newObj.(*corev1.ConfigMap)
	if !ok {
		logging.Warn("KubernetesSource", "Unexpected object in update event: %T", newObj)
		return
	}
	t := ConfigMapTrigger(cm)
	s.Upsert(t.ID, t.Attributes)
}

func (s *KubernetesSource) handleDelete(obj interface{}) {
	// Handle DeletedFinalStateUnknown for objects deleted while the watch was down
	if deletedState, ok := obj.(toolscache.DeletedFinalStateUnknown); ok {
		obj = deletedState.Obj
	}

	clientObj, ok := obj.(client.Object)
	if !ok {
		logging.Warn("KubernetesSource", "Failed to extract metadata from delete event")
		return
	}
	s.Unregister(clientObj.GetNamespace() + "/" + clientObj.GetName())
}

// ConfigMapTrigger converts a ConfigMap into a trigger.
func ConfigMapTrigger(cm *corev1.ConfigMap) Trigger {
	attrs := make(map[string]any, len(cm.Data)+len(cm.Labels)+2)
	for k, v := range cm.Data {
		attrs[k] = v
	}
	for k, v := range cm.Labels {
		attrs[k] = v
	}
	attrs["metadata.name"] = cm.Name
	attrs["metadata.namespace"] = cm.Namespace

	return Trigger{ID: cm.Namespace + "/" + cm.Name, Attributes: attrs}
}

// Stop stops the informer. Triggers already seen stay registered.
func (s *KubernetesSource) Stop() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if !s.running {
		return nil
	}
	s.running = false

	if s.cancelFunc != nil {
		s.cancelFunc()
	}
	s.registration = nil

	logging.Info("KubernetesSource", "Stopped Kubernetes source")
	return nil
}

func (s *KubernetesSource) namespaceDisplay() string {
	if s.namespace == "" {
		return "all namespaces"
	}
	return s.namespace
}

// GetRestConfig returns the REST config using controller-runtime's
// kubeconfig/in-cluster detection.
func GetRestConfig() (*rest.Config, error) {
	return ctrl.GetConfig()
}
