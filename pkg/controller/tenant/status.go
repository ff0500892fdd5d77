package tenant

import (
	"fmt"

	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
)

// Condition reasons recorded on phase transitions.
const (
	ReasonProvisioning       = "Provisioning"
	ReasonAllServicesHealthy = "AllServicesHealthy"
	ReasonServiceUnhealthy   = "ServiceUnhealthy"
	ReasonProvisioningFailed = "ProvisioningFailed"
	ReasonTerminating        = "Terminating"
)

// observed is the per-pass summary of live cluster state the phase decision
// runs on.
type observed struct {
	workloadsReady bool
	healthKnown    bool
	healthy        bool
}

// nextPhase computes the phase the tenant should move to, constrained to the
// lifecycle graph. An observation that would require an illegal edge (for
// example unhealthy probes while still Provisioning) keeps the current phase;
// the legal transition happens on a later pass once an intermediate state is
// reached.
func nextPhase(current tenantv1alpha1.TenantPhase, obs observed) tenantv1alpha1.TenantPhase {
	if current == "" {
		current = tenantv1alpha1.PhasePending
	}

	var desired tenantv1alpha1.TenantPhase
	switch {
	case !obs.workloadsReady:
		desired = tenantv1alpha1.PhaseProvisioning
	case obs.healthKnown && obs.healthy:
		desired = tenantv1alpha1.PhaseReady
	case obs.healthKnown:
		desired = tenantv1alpha1.PhaseDegraded
	default:
		// Workloads ready but no probe cycle has completed yet.
		desired = tenantv1alpha1.PhaseProvisioning
	}

	if !tenantv1alpha1.ValidPhaseTransition(current, desired) {
		return current
	}
	return desired
}

// transitionPhase moves the tenant to a new phase and appends the transition
// condition. A same-phase call changes nothing, which keeps the condition
// list a history of transitions rather than a reconcile log.
func transitionPhase(tenant *tenantv1alpha1.Tenant, phase tenantv1alpha1.TenantPhase, reason, message string) bool {
	if tenant.Status.Phase == phase {
		return false
	}
	tenant.Status.Phase = phase
	tenant.Status.Conditions = append(tenant.Status.Conditions, metav1.Condition{
		Type:               conditionType(phase),
		Status:             metav1.ConditionTrue,
		Reason:             reason,
		Message:            message,
		LastTransitionTime: metav1.Now(),
		ObservedGeneration: tenant.Generation,
	})
	return true
}

func conditionType(phase tenantv1alpha1.TenantPhase) string {
	switch phase {
	case tenantv1alpha1.PhaseReady:
		return tenantv1alpha1.ConditionReady
	case tenantv1alpha1.PhaseDegraded:
		return tenantv1alpha1.ConditionDegraded
	case tenantv1alpha1.PhaseFailed:
		return tenantv1alpha1.ConditionFailed
	case tenantv1alpha1.PhaseTerminating:
		return tenantv1alpha1.ConditionTerminating
	default:
		return tenantv1alpha1.ConditionProvisioning
	}
}

// phaseReason maps a computed phase to its transition reason and message.
func phaseReason(phase tenantv1alpha1.TenantPhase, services map[string]tenantv1alpha1.HealthStatus) (string, string) {
	switch phase {
	case tenantv1alpha1.PhaseReady:
		return ReasonAllServicesHealthy, "all declared services report healthy"
	case tenantv1alpha1.PhaseDegraded:
		return ReasonServiceUnhealthy, unhealthySummary(services)
	default:
		return ReasonProvisioning, "tenant workloads are being provisioned"
	}
}

func unhealthySummary(services map[string]tenantv1alpha1.HealthStatus) string {
	for svc, status := range services {
		if status.Status == tenantv1alpha1.HealthUnhealthy {
			return fmt.Sprintf("service %s is unhealthy: %s", svc, status.Message)
		}
	}
	return "at least one service is not healthy"
}
