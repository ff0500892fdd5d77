package tenant

import (
	"context"
	"fmt"
	"sync"
	"time"

	"go.opentelemetry.io/otel/trace"
	appsv1 "k8s.io/api/apps/v1"
	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	networkingv1 "k8s.io/api/networking/v1"
	apiequality "k8s.io/apimachinery/pkg/api/equality"
	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/tools/record"
	ctrl "sigs.k8s.io/controller-runtime"
	"sigs.k8s.io/controller-runtime/pkg/builder"
	"sigs.k8s.io/controller-runtime/pkg/client"
	"sigs.k8s.io/controller-runtime/pkg/controller"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"
	"sigs.k8s.io/controller-runtime/pkg/event"
	"sigs.k8s.io/controller-runtime/pkg/handler"
	"sigs.k8s.io/controller-runtime/pkg/log"
	"sigs.k8s.io/controller-runtime/pkg/predicate"
	"sigs.k8s.io/controller-runtime/pkg/source"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
	"github.com/rezenkai/tenant-operator/pkg/discovery"
	"github.com/rezenkai/tenant-operator/pkg/health"
	"github.com/rezenkai/tenant-operator/pkg/monitoring"
	"github.com/rezenkai/tenant-operator/pkg/util/metadata"
	"github.com/rezenkai/tenant-operator/pkg/util/name"
)

const (
	// FinalizerName guards tenant deletion until owned cluster objects are
	// torn down.
	FinalizerName = "tenant.rezenkai.com/finalizer"

	// DefaultSyncPeriod is the resync interval used when none is configured.
	DefaultSyncPeriod = 30 * time.Second

	// DefaultMaxProvisionAttempts is the consecutive-failure budget before a
	// tenant is marked Failed.
	DefaultMaxProvisionAttempts = 5
)

// HealthReader is the reconciler's view of the health monitor: cached
// snapshots only, never a live probe.
type HealthReader interface {
	Snapshot(tenant string) (health.Snapshot, bool)
	Forget(tenant string)
}

// TenantReconciler reconciles a Tenant object. It is the only writer of
// Tenant status.
type TenantReconciler struct {
	client.Client
	Scheme   *runtime.Scheme
	Recorder record.EventRecorder

	// Discovery is the endpoint registry maintained by the discovery
	// watcher.
	Discovery *discovery.Registry

	// Health serves cached health snapshots.
	Health HealthReader

	// Requests carries reconcile nudges from discovery and the health
	// monitor. Wired as a raw watch source.
	Requests <-chan event.GenericEvent

	// SyncPeriod is the drift-healing requeue interval.
	SyncPeriod time.Duration

	// MaxProvisionAttempts bounds consecutive provisioning failures before
	// the tenant is marked Failed.
	MaxProvisionAttempts int

	mu                sync.Mutex
	provisionFailures map[types.NamespacedName]int
}

// +kubebuilder:rbac:groups=tenant.rezenkai.com,resources=tenants,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=tenant.rezenkai.com,resources=tenants/status,verbs=get;update;patch
// +kubebuilder:rbac:groups=tenant.rezenkai.com,resources=tenants/finalizers,verbs=update
// +kubebuilder:rbac:groups="",resources=namespaces;services;secrets;resourcequotas,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=apps,resources=deployments;statefulsets,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=networking.k8s.io,resources=ingresses;networkpolicies,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups=batch,resources=jobs,verbs=get;list;watch;create;update;patch;delete
// +kubebuilder:rbac:groups="",resources=events,verbs=create;patch

// Reconcile drives one tenant toward its declared state.
func (r *TenantReconciler) Reconcile(ctx context.Context, req ctrl.Request) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	tenant := &tenantv1alpha1.Tenant{}
	if err := r.Get(ctx, req.NamespacedName, tenant); err != nil {
		if apierrors.IsNotFound(err) {
			// Already gone; drop any leftover in-memory state.
			r.forget(req.NamespacedName)
			return ctrl.Result{}, nil
		}
		return ctrl.Result{}, fmt.Errorf("getting Tenant: %w", err)
	}

	extracted, stale := monitoring.ExtractTraceContext(tenant.Annotations)
	if sc := trace.SpanContextFromContext(extracted); sc.IsValid() && !stale {
		ctx = trace.ContextWithRemoteSpanContext(ctx, sc)
	} else if stale {
		logger.V(1).Info("trace context on tenant is stale, starting a new trace")
	}
	ctx, span := monitoring.StartReconcileSpan(ctx, "tenant.reconcile", tenant.Name, name.Namespace(tenant.Name), "Tenant")
	defer span.End()
	ctx = monitoring.EnrichLoggerWithTrace(ctx)
	logger = log.FromContext(ctx).WithValues("tenant", tenant.Name)

	if !tenant.DeletionTimestamp.IsZero() {
		return r.handleDeletion(ctx, tenant)
	}

	if !controllerutil.ContainsFinalizer(tenant, FinalizerName) {
		controllerutil.AddFinalizer(tenant, FinalizerName)
		if err := r.Update(ctx, tenant); err != nil {
			return ctrl.Result{}, fmt.Errorf("adding finalizer: %w", err)
		}
	}

	// Snapshot status before this pass so the final write can be skipped
	// when nothing changed.
	before := tenant.Status.DeepCopy()

	if tenant.Status.Phase == "" || tenant.Status.Phase == tenantv1alpha1.PhasePending {
		transitionPhase(tenant, tenantv1alpha1.PhaseProvisioning, ReasonProvisioning,
			"starting tenant provisioning")
		r.event(tenant, corev1.EventTypeNormal, "Provisioning", "Starting tenant provisioning")
	}

	if err := r.ensureAll(ctx, tenant); err != nil {
		monitoring.RecordSpanError(span, err)
		return r.handleProvisionError(ctx, tenant, before, err)
	}
	r.resetFailures(req.NamespacedName)
	monitoring.RecordProvisionAttempt(tenant.Name, nil)

	obs := r.observe(ctx, tenant)

	phase := nextPhase(tenant.Status.Phase, obs)
	reason, message := phaseReason(phase, tenant.Status.ServiceHealth)
	if transitionPhase(tenant, phase, reason, message) {
		r.event(tenant, corev1.EventTypeNormal, string(phase), message)
		logger.Info("phase transition", "phase", phase, "reason", reason)
	}

	tenant.Status.ObservedGeneration = tenant.Generation
	if err := r.writeStatus(ctx, tenant, before); err != nil {
		return ctrl.Result{}, err
	}

	monitoring.SetTenantInfo(tenant.Name, name.Namespace(tenant.Name), string(tenant.Status.Phase))
	monitoring.SetTenantServices(tenant.Name, name.Namespace(tenant.Name), len(tenant.Spec.Services))

	return ctrl.Result{RequeueAfter: r.syncPeriod()}, nil
}

// handleProvisionError books one failed attempt against the retry budget.
// Within budget the error goes back to the workqueue for backoff; once the
// budget is spent the tenant is marked Failed and retrying falls back to the
// resync period so it can still self-heal.
func (r *TenantReconciler) handleProvisionError(ctx context.Context, tenant *tenantv1alpha1.Tenant, before *tenantv1alpha1.TenantStatus, err error) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	monitoring.RecordProvisionAttempt(tenant.Name, err)
	r.event(tenant, corev1.EventTypeWarning, "ReconcileError", err.Error())

	key := client.ObjectKeyFromObject(tenant)
	r.mu.Lock()
	if r.provisionFailures == nil {
		r.provisionFailures = make(map[types.NamespacedName]int)
	}
	r.provisionFailures[key]++
	failures := r.provisionFailures[key]
	r.mu.Unlock()

	budget := r.MaxProvisionAttempts
	if budget <= 0 {
		budget = DefaultMaxProvisionAttempts
	}

	if failures < budget {
		logger.Error(err, "provisioning failed, will retry", "attempt", failures, "budget", budget)
		if werr := r.writeStatus(ctx, tenant, before); werr != nil {
			return ctrl.Result{}, werr
		}
		return ctrl.Result{}, err
	}

	logger.Error(err, "provisioning retry budget exhausted, marking tenant Failed", "attempts", failures)
	if transitionPhase(tenant, tenantv1alpha1.PhaseFailed, ReasonProvisioningFailed,
		fmt.Sprintf("provisioning failed after %d attempts: %v", failures, err)) {
		r.event(tenant, corev1.EventTypeWarning, "ProvisioningFailed", err.Error())
	}
	if werr := r.writeStatus(ctx, tenant, before); werr != nil {
		return ctrl.Result{}, werr
	}
	return ctrl.Result{RequeueAfter: r.syncPeriod()}, nil
}

// ensureAll converges every owned cluster object to the desired state
// rendered from the spec.
func (r *TenantReconciler) ensureAll(ctx context.Context, tenant *tenantv1alpha1.Tenant) error {
	if err := r.ensureNamespace(ctx, tenant); err != nil {
		return err
	}
	if err := r.ensureDatabase(ctx, tenant); err != nil {
		return err
	}
	for _, svc := range tenant.Spec.Services {
		if err := r.ensureService(ctx, tenant, svc); err != nil {
			return fmt.Errorf("ensuring service %s: %w", svc.Name, err)
		}
	}
	if err := r.pruneUndeclaredServices(ctx, tenant); err != nil {
		return err
	}
	if err := r.ensureIngress(ctx, tenant); err != nil {
		return err
	}
	return r.ensureBackups(ctx, tenant)
}

func (r *TenantReconciler) ensureNamespace(ctx context.Context, tenant *tenantv1alpha1.Tenant) error {
	desired := BuildNamespace(tenant)
	existing := &corev1.Namespace{}
	err := r.Get(ctx, client.ObjectKeyFromObject(desired), existing)
	switch {
	case apierrors.IsNotFound(err):
		if err := r.Create(ctx, desired); err != nil {
			return fmt.Errorf("creating namespace: %w", err)
		}
	case err != nil:
		return fmt.Errorf("getting namespace: %w", err)
	case !labelsContain(existing.Labels, desired.Labels):
		existing.Labels = metadata.MergeLabels(desired.Labels, existing.Labels)
		if err := r.Update(ctx, existing); err != nil {
			return fmt.Errorf("updating namespace labels: %w", err)
		}
	}

	quota, err := BuildResourceQuota(tenant)
	if err != nil {
		return err
	}
	if err := r.ensureObject(ctx, quota, func(existing client.Object) bool {
		cur := existing.(*corev1.ResourceQuota)
		if apiequality.Semantic.DeepEqual(cur.Spec, quota.Spec) {
			return false
		}
		cur.Spec = quota.Spec
		return true
	}); err != nil {
		return fmt.Errorf("ensuring resource quota: %w", err)
	}

	policy := BuildNetworkPolicy(tenant)
	if err := r.ensureObject(ctx, policy, func(existing client.Object) bool {
		cur := existing.(*networkingv1.NetworkPolicy)
		if apiequality.Semantic.DeepEqual(cur.Spec, policy.Spec) {
			return false
		}
		cur.Spec = policy.Spec
		return true
	}); err != nil {
		return fmt.Errorf("ensuring network policy: %w", err)
	}

	return nil
}

func (r *TenantReconciler) ensureDatabase(ctx context.Context, tenant *tenantv1alpha1.Tenant) error {
	// The credentials Secret contains a generated password: create once,
	// never rewrite.
	existingSecret := &corev1.Secret{}
	err := r.Get(ctx, types.NamespacedName{
		Name:      name.DatabaseSecret(tenant.Name),
		Namespace: name.Namespace(tenant.Name),
	}, existingSecret)
	if apierrors.IsNotFound(err) {
		secret, err := BuildDatabaseSecret(tenant, r.Scheme)
		if err != nil {
			return err
		}
		if err := r.Create(ctx, secret); err != nil && !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("creating database secret: %w", err)
		}
	} else if err != nil {
		return fmt.Errorf("getting database secret: %w", err)
	}

	sts, err := BuildDatabaseStatefulSet(tenant, r.Scheme)
	if err != nil {
		return err
	}
	if err := r.ensureObject(ctx, sts, func(existing client.Object) bool {
		cur := existing.(*appsv1.StatefulSet)
		if apiequality.Semantic.DeepEqual(cur.Spec.Replicas, sts.Spec.Replicas) &&
			apiequality.Semantic.DeepEqual(cur.Spec.Template, sts.Spec.Template) {
			return false
		}
		cur.Spec.Replicas = sts.Spec.Replicas
		cur.Spec.Template = sts.Spec.Template
		return true
	}); err != nil {
		return fmt.Errorf("ensuring database StatefulSet: %w", err)
	}

	svc, err := BuildDatabaseService(tenant, r.Scheme)
	if err != nil {
		return err
	}
	if err := r.ensureObject(ctx, svc, serviceUpdater(svc)); err != nil {
		return fmt.Errorf("ensuring database Service: %w", err)
	}

	return nil
}

func (r *TenantReconciler) ensureService(ctx context.Context, tenant *tenantv1alpha1.Tenant, spec tenantv1alpha1.ServiceSpec) error {
	deploy, err := BuildServiceDeployment(tenant, spec, r.Scheme)
	if err != nil {
		return err
	}
	if err := r.ensureObject(ctx, deploy, func(existing client.Object) bool {
		cur := existing.(*appsv1.Deployment)
		if apiequality.Semantic.DeepEqual(cur.Spec.Replicas, deploy.Spec.Replicas) &&
			apiequality.Semantic.DeepEqual(cur.Spec.Template, deploy.Spec.Template) {
			return false
		}
		cur.Spec.Replicas = deploy.Spec.Replicas
		cur.Spec.Template = deploy.Spec.Template
		return true
	}); err != nil {
		return fmt.Errorf("ensuring Deployment: %w", err)
	}

	svc, err := BuildService(tenant, spec, r.Scheme)
	if err != nil {
		return err
	}
	if err := r.ensureObject(ctx, svc, serviceUpdater(svc)); err != nil {
		return fmt.Errorf("ensuring Service: %w", err)
	}

	return nil
}

// pruneUndeclaredServices deletes workloads for services removed from the
// spec.
func (r *TenantReconciler) pruneUndeclaredServices(ctx context.Context, tenant *tenantv1alpha1.Tenant) error {
	logger := log.FromContext(ctx)

	declared := make(map[string]bool, len(tenant.Spec.Services))
	for _, svc := range tenant.Spec.Services {
		declared[svc.Name] = true
	}

	var deployments appsv1.DeploymentList
	if err := r.List(ctx, &deployments,
		client.InNamespace(name.Namespace(tenant.Name)),
		client.MatchingLabels{
			metadata.LabelTenant:       tenant.Name,
			metadata.LabelAppComponent: metadata.ComponentService,
		}); err != nil {
		return fmt.Errorf("listing service deployments: %w", err)
	}

	for i := range deployments.Items {
		deploy := &deployments.Items[i]
		svcName := deploy.Labels[metadata.LabelTenantService]
		if declared[svcName] {
			continue
		}
		logger.Info("deleting workload for undeclared service", "service", svcName)
		if err := r.Delete(ctx, deploy); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("deleting undeclared Deployment %s: %w", deploy.Name, err)
		}
		stale := &corev1.Service{ObjectMeta: metav1.ObjectMeta{
			Name:      name.Service(tenant.Name, svcName),
			Namespace: name.Namespace(tenant.Name),
		}}
		if err := r.Delete(ctx, stale); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("deleting undeclared Service %s: %w", stale.Name, err)
		}
	}
	return nil
}

func (r *TenantReconciler) ensureIngress(ctx context.Context, tenant *tenantv1alpha1.Tenant) error {
	key := types.NamespacedName{
		Name:      name.Ingress(tenant.Name),
		Namespace: name.Namespace(tenant.Name),
	}

	if len(tenant.Spec.Domains) == 0 {
		existing := &networkingv1.Ingress{}
		err := r.Get(ctx, key, existing)
		if apierrors.IsNotFound(err) {
			return nil
		}
		if err != nil {
			return fmt.Errorf("getting Ingress: %w", err)
		}
		if err := r.Delete(ctx, existing); err != nil && !apierrors.IsNotFound(err) {
			return fmt.Errorf("deleting Ingress: %w", err)
		}
		return nil
	}

	ingress, err := BuildIngress(tenant, r.Scheme)
	if err != nil {
		return err
	}
	if err := r.ensureObject(ctx, ingress, func(existing client.Object) bool {
		cur := existing.(*networkingv1.Ingress)
		if apiequality.Semantic.DeepEqual(cur.Spec, ingress.Spec) {
			return false
		}
		cur.Spec = ingress.Spec
		return true
	}); err != nil {
		return fmt.Errorf("ensuring Ingress: %w", err)
	}
	return nil
}

// ensureBackups turns backup/restore request annotations into one-shot Jobs.
// The annotation is cleared once the job exists so a request runs exactly
// once.
func (r *TenantReconciler) ensureBackups(ctx context.Context, tenant *tenantv1alpha1.Tenant) error {
	if backupName, ok := tenant.Annotations[AnnotationBackupRequest]; ok {
		job, err := BuildBackupJob(tenant, backupName, r.Scheme)
		if err != nil {
			return err
		}
		if err := r.Create(ctx, job); err != nil && !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("creating backup job: %w", err)
		}
		delete(tenant.Annotations, AnnotationBackupRequest)
		if err := r.Update(ctx, tenant); err != nil {
			return fmt.Errorf("clearing backup annotation: %w", err)
		}
		tenant.Status.DatabaseStatus.LastBackupTime = &metav1.Time{Time: time.Now()}
		r.event(tenant, corev1.EventTypeNormal, "BackupStarted",
			fmt.Sprintf("Backup %s started", backupName))
	}

	if restoreName, ok := tenant.Annotations[AnnotationRestoreRequest]; ok {
		job, err := BuildRestoreJob(tenant, restoreName, r.Scheme)
		if err != nil {
			return err
		}
		if err := r.Create(ctx, job); err != nil && !apierrors.IsAlreadyExists(err) {
			return fmt.Errorf("creating restore job: %w", err)
		}
		delete(tenant.Annotations, AnnotationRestoreRequest)
		if err := r.Update(ctx, tenant); err != nil {
			return fmt.Errorf("clearing restore annotation: %w", err)
		}
		r.event(tenant, corev1.EventTypeNormal, "RestoreStarted",
			fmt.Sprintf("Restore %s started", restoreName))
	}

	return nil
}

// observe folds live cluster and health-cache state into the tenant status
// and returns the summary the phase decision runs on.
func (r *TenantReconciler) observe(ctx context.Context, tenant *tenantv1alpha1.Tenant) observed {
	logger := log.FromContext(ctx)

	obs := observed{workloadsReady: true}

	endpointCounts := map[string]int32{}
	if r.Discovery != nil {
		for _, ep := range r.Discovery.GetTenantEndpoints(tenant.Name) {
			endpointCounts[ep.Service]++
		}
	}

	statuses := make([]tenantv1alpha1.ServiceStatus, 0, len(tenant.Spec.Services))
	for _, svc := range tenant.Spec.Services {
		st := tenantv1alpha1.ServiceStatus{Name: svc.Name, Version: svc.Version, Replicas: 1}
		st.Endpoints = endpointCounts[name.Service(tenant.Name, svc.Name)]
		if svc.Replicas != nil {
			st.Replicas = *svc.Replicas
		}

		deploy := &appsv1.Deployment{}
		err := r.Get(ctx, types.NamespacedName{
			Name:      name.Workload(tenant.Name, svc.Name),
			Namespace: name.Namespace(tenant.Name),
		}, deploy)
		if err == nil {
			st.ReadyReplicas = deploy.Status.ReadyReplicas
			st.Ready = deploy.Status.ReadyReplicas >= st.Replicas
		} else if !apierrors.IsNotFound(err) {
			logger.Error(err, "reading Deployment for status", "service", svc.Name)
		}
		if !st.Ready {
			obs.workloadsReady = false
		}
		monitoring.SetServiceReplicas(tenant.Name, svc.Name, st.Replicas, st.ReadyReplicas)
		statuses = append(statuses, st)
	}
	tenant.Status.Services = statuses

	sts := &appsv1.StatefulSet{}
	err := r.Get(ctx, types.NamespacedName{
		Name:      name.Database(tenant.Name),
		Namespace: name.Namespace(tenant.Name),
	}, sts)
	if err == nil {
		tenant.Status.DatabaseStatus.Ready = sts.Status.ReadyReplicas > 0
		monitoring.SetDatabaseReplicas(tenant.Name, 1, sts.Status.ReadyReplicas)
	} else {
		tenant.Status.DatabaseStatus.Ready = false
		if !apierrors.IsNotFound(err) {
			logger.Error(err, "reading database StatefulSet for status")
		}
	}
	if !tenant.Status.DatabaseStatus.Ready {
		obs.workloadsReady = false
	}
	tenant.Status.DatabaseStatus.ConnectionURL = fmt.Sprintf("%s:%d/tenant_%s_db",
		DatabaseHost(tenant.Name), DatabasePort(tenant.Spec.Database.Type), tenant.Name)

	if len(tenant.Spec.Domains) > 0 {
		tenant.Status.URL = "https://" + tenant.Spec.Domains[0]
	} else {
		tenant.Status.URL = ""
	}

	if r.Health != nil {
		if snap, ok := r.Health.Snapshot(tenant.Name); ok {
			obs.healthKnown = true
			obs.healthy = snap.Healthy
			tenant.Status.ServiceHealth = snap.Services
		}
	}

	return obs
}

// writeStatus persists status through the status subresource, skipping the
// write entirely when this pass changed nothing. LastReconcileTime is stamped
// only on real writes so an idle tenant generates no API traffic.
func (r *TenantReconciler) writeStatus(ctx context.Context, tenant *tenantv1alpha1.Tenant, before *tenantv1alpha1.TenantStatus) error {
	current := tenant.Status.DeepCopy()
	current.LastReconcileTime = before.LastReconcileTime
	if apiequality.Semantic.DeepEqual(before, current) {
		return nil
	}

	tenant.Status.LastReconcileTime = &metav1.Time{Time: time.Now()}
	if err := r.Status().Update(ctx, tenant); err != nil {
		return fmt.Errorf("updating status: %w", err)
	}
	return nil
}

// handleDeletion tears down owned objects in dependency order (application
// workloads, then the database, then the namespace) and removes the
// finalizer.
func (r *TenantReconciler) handleDeletion(ctx context.Context, tenant *tenantv1alpha1.Tenant) (ctrl.Result, error) {
	logger := log.FromContext(ctx)

	if !controllerutil.ContainsFinalizer(tenant, FinalizerName) {
		return ctrl.Result{}, nil
	}

	before := tenant.Status.DeepCopy()
	if transitionPhase(tenant, tenantv1alpha1.PhaseTerminating, ReasonTerminating,
		"tenant deletion requested") {
		r.event(tenant, corev1.EventTypeNormal, "Terminating", "Starting tenant teardown")
		if err := r.writeStatus(ctx, tenant, before); err != nil {
			return ctrl.Result{}, err
		}
	}

	logger.Info("tearing down tenant resources")

	var deployments appsv1.DeploymentList
	if err := r.List(ctx, &deployments,
		client.InNamespace(name.Namespace(tenant.Name)),
		client.MatchingLabels{metadata.LabelTenant: tenant.Name}); err != nil {
		return ctrl.Result{}, fmt.Errorf("listing workloads for teardown: %w", err)
	}
	for i := range deployments.Items {
		if err := r.Delete(ctx, &deployments.Items[i]); err != nil && !apierrors.IsNotFound(err) {
			return ctrl.Result{}, fmt.Errorf("deleting workload %s: %w", deployments.Items[i].Name, err)
		}
	}

	sts := &appsv1.StatefulSet{ObjectMeta: metav1.ObjectMeta{
		Name:      name.Database(tenant.Name),
		Namespace: name.Namespace(tenant.Name),
	}}
	if err := r.Delete(ctx, sts); err != nil && !apierrors.IsNotFound(err) {
		return ctrl.Result{}, fmt.Errorf("deleting database StatefulSet: %w", err)
	}

	ns := &corev1.Namespace{ObjectMeta: metav1.ObjectMeta{Name: name.Namespace(tenant.Name)}}
	if err := r.Delete(ctx, ns); err != nil && !apierrors.IsNotFound(err) {
		return ctrl.Result{}, fmt.Errorf("deleting namespace: %w", err)
	}

	r.forget(client.ObjectKeyFromObject(tenant))

	controllerutil.RemoveFinalizer(tenant, FinalizerName)
	if err := r.Update(ctx, tenant); err != nil {
		return ctrl.Result{}, fmt.Errorf("removing finalizer: %w", err)
	}

	logger.Info("tenant teardown complete")
	return ctrl.Result{}, nil
}

// forget drops all in-memory and metric state for a tenant.
func (r *TenantReconciler) forget(key types.NamespacedName) {
	if r.Discovery != nil {
		r.Discovery.Remove(key.Name)
	}
	if r.Health != nil {
		r.Health.Forget(key.Name)
	}
	monitoring.DeleteTenantMetrics(key.Name, name.Namespace(key.Name))
	r.resetFailures(key)
}

func (r *TenantReconciler) resetFailures(key types.NamespacedName) {
	r.mu.Lock()
	delete(r.provisionFailures, key)
	r.mu.Unlock()
}

func (r *TenantReconciler) syncPeriod() time.Duration {
	if r.SyncPeriod > 0 {
		return r.SyncPeriod
	}
	return DefaultSyncPeriod
}

func (r *TenantReconciler) event(tenant *tenantv1alpha1.Tenant, kind, reason, message string) {
	if r.Recorder != nil {
		r.Recorder.Event(tenant, kind, reason, message)
	}
}

// ensureObject gets the desired object's live counterpart, creates it when
// absent, and otherwise applies the update function, writing only when it
// reports drift.
func (r *TenantReconciler) ensureObject(ctx context.Context, desired client.Object, update func(existing client.Object) bool) error {
	existing := desired.DeepCopyObject().(client.Object)
	err := r.Get(ctx, client.ObjectKeyFromObject(desired), existing)
	if apierrors.IsNotFound(err) {
		if err := r.Create(ctx, desired); err != nil {
			return fmt.Errorf("creating %s: %w", desired.GetName(), err)
		}
		return nil
	}
	if err != nil {
		return fmt.Errorf("getting %s: %w", desired.GetName(), err)
	}

	if !update(existing) {
		return nil
	}
	if err := r.Update(ctx, existing); err != nil {
		return fmt.Errorf("updating %s: %w", desired.GetName(), err)
	}
	return nil
}

// serviceUpdater compares only the managed Service fields; ClusterIP and
// other server-assigned fields stay untouched.
func serviceUpdater(desired *corev1.Service) func(existing client.Object) bool {
	return func(existing client.Object) bool {
		cur := existing.(*corev1.Service)
		if apiequality.Semantic.DeepEqual(cur.Spec.Ports, desired.Spec.Ports) &&
			apiequality.Semantic.DeepEqual(cur.Spec.Selector, desired.Spec.Selector) {
			return false
		}
		cur.Spec.Ports = desired.Spec.Ports
		cur.Spec.Selector = desired.Spec.Selector
		return true
	}
}

func labelsContain(have, want map[string]string) bool {
	for k, v := range want {
		if have[k] != v {
			return false
		}
	}
	return true
}

// SetupWithManager wires the reconciler: spec changes, owned-object changes,
// and raw reconcile requests from discovery and the health monitor.
func (r *TenantReconciler) SetupWithManager(mgr ctrl.Manager, opts ...controller.Options) error {
	controllerOpts := controller.Options{MaxConcurrentReconciles: 4}
	if len(opts) > 0 {
		controllerOpts = opts[0]
	}

	b := ctrl.NewControllerManagedBy(mgr).
		For(&tenantv1alpha1.Tenant{}, builder.WithPredicates(predicate.Or[client.Object](
			predicate.GenerationChangedPredicate{},
			predicate.AnnotationChangedPredicate{},
		))).
		Owns(&appsv1.Deployment{}).
		Owns(&appsv1.StatefulSet{}).
		Owns(&corev1.Service{}).
		Owns(&networkingv1.Ingress{}).
		Owns(&batchv1.Job{}).
		WithOptions(controllerOpts)

	if r.Requests != nil {
		b = b.WatchesRawSource(source.Channel(r.Requests, &handler.EnqueueRequestForObject{}))
	}

	return b.Complete(r)
}
