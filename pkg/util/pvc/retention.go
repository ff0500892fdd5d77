// Package pvc provides utilities for PVC lifecycle management.
package pvc

import (
	appsv1 "k8s.io/api/apps/v1"
)

// AnnotationDeletionPolicy selects what happens to database volumes when the
// tenant's StatefulSet goes away. Value "delete" opts into removal; anything
// else keeps the volumes so a deleted tenant can be restored from them.
const AnnotationDeletionPolicy = "tenant.rezenkai.com/pvc-deletion-policy"

// DeletionPolicyDelete is the annotation value that opts into PVC removal.
const DeletionPolicyDelete = "delete"

// BuildRetentionPolicy converts the tenant's volume annotations to a
// Kubernetes StatefulSet retention policy. Without the opt-in annotation it
// retains volumes on both deletion and scale-down, the safe default for
// tenant data.
func BuildRetentionPolicy(annotations map[string]string) *appsv1.StatefulSetPersistentVolumeClaimRetentionPolicy {
	policy := &appsv1.StatefulSetPersistentVolumeClaimRetentionPolicy{
		WhenDeleted: appsv1.RetainPersistentVolumeClaimRetentionPolicyType,
		WhenScaled:  appsv1.RetainPersistentVolumeClaimRetentionPolicyType,
	}

	if annotations[AnnotationDeletionPolicy] == DeletionPolicyDelete {
		policy.WhenDeleted = appsv1.DeletePersistentVolumeClaimRetentionPolicyType
	}

	return policy
}
