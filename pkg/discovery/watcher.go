package discovery

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	"k8s.io/apimachinery/pkg/types"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
	"sigs.k8s.io/controller-runtime/pkg/reconcile"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
	"github.com/rezenkai/tenant-operator/pkg/monitoring"
	"github.com/rezenkai/tenant-operator/pkg/util/name"
)

// Watcher translates Service and Endpoints watch events inside tenant
// namespaces into Registry updates, and nudges the tenant controller through
// the reconcile request channel so discovery changes feed back into the
// control loop without the reconciler polling for them.
type Watcher struct {
	client.Client

	Registry *Registry

	// Requests is the shared reconcile-request channel consumed by the
	// tenant controller. Sends are non-blocking; a full channel drops the
	// nudge, which is safe because the resync period heals missed events.
	Requests chan<- event.GenericEvent
}

// +kubebuilder:rbac:groups="",resources=services;endpoints,verbs=get;list;watch

// Reconcile rebuilds the owning tenant's endpoint set from the live Service
// and Endpoints objects in its namespace. Deletions need no special handling:
// the recompute simply no longer sees the removed service.
func (w *Watcher) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	tenant, ok := name.TenantFromNamespace(req.Namespace)
	if !ok {
		return ctrl.Result{}, nil
	}
	logger := log.FromContext(ctx).WithValues("tenant", tenant)

	var services corev1.ServiceList
	if err := w.List(ctx, &services, client.InNamespace(req.Namespace)); err != nil {
		return ctrl.Result{}, fmt.Errorf("listing services in %s: %w", req.Namespace, err)
	}

	endpoints := make([]ServiceEndpoint, 0, len(services.Items))
	for _, svc := range services.Items {
		var eps corev1.Endpoints
		err := w.Get(ctx, types.NamespacedName{Name: svc.Name, Namespace: svc.Namespace}, &eps)
		if err != nil {
			if !apierrors.IsNotFound(err) {
				logger.Error(err, "getting endpoints", "service", svc.Name)
			}
			continue
		}
		for _, subset := range eps.Subsets {
			for _, addr := range subset.Addresses {
				for _, port := range subset.Ports {
					endpoints = append(endpoints, ServiceEndpoint{
						Tenant:    tenant,
						Service:   svc.Name,
						Namespace: svc.Namespace,
						Address:   addr.IP,
						Port:      port.Port,
						Protocol:  string(port.Protocol),
					})
				}
			}
		}
	}

	w.Registry.SetEndpoints(tenant, endpoints)
	monitoring.SetDiscoveryEndpoints(tenant, len(endpoints))
	logger.V(1).Info("updated endpoint registry", "endpoints", len(endpoints))

	w.notifyTenant(ctx, tenant)
	return ctrl.Result{}, nil
}

// notifyTenant posts a reconcile request for the tenant owning the changed
// endpoints. The send never blocks the watch path.
func (w *Watcher) notifyTenant(ctx context.Context, tenant string) {
	if w.Requests == nil {
		return
	}
	logger := log.FromContext(ctx)

	var tenants tenantv1alpha1.TenantList
	if err := w.List(ctx, &tenants); err != nil {
		logger.Error(err, "listing tenants for discovery notification")
		return
	}
	for i := range tenants.Items {
		if tenants.Items[i].Name != tenant {
			continue
		}
		select {
		case w.Requests <- event.GenericEvent{Object: &tenants.Items[i]}:
		default:
			logger.Info("reconcile request channel full, dropping discovery nudge",
				"tenant", tenant)
		}
		return
	}
}

// tenantNamespaceOnly filters watch events down to tenant namespaces.
var tenantNamespaceOnly = predicate.NewPredicateFuncs(func(obj client.Object) bool {
	return name.IsTenantNamespace(obj.GetNamespace())
})

// SetupWithManager registers the watcher for Services and piggybacks
// Endpoints events onto the same per-service reconcile key.
func (w *Watcher) SetupWithManager(mgr ctrl.Manager) error {
	mapToService := handler.EnqueueRequestsFromMapFunc(
		func(ctx context.Context, obj client.Object) []reconcile.Request {
			return []reconcile.Request{{NamespacedName: types.NamespacedName{
				Name:      obj.GetName(),
				Namespace: obj.GetNamespace(),
			}}}
		})

	return ctrl.NewControllerManagedBy(mgr).
		Named("discovery").
		For(&corev1.Service{}, builder.WithPredicates(tenantNamespaceOnly)).
		Watches(&corev1.Endpoints{}, mapToService,
			builder.WithPredicates(tenantNamespaceOnly)).
		Complete(w)
}
