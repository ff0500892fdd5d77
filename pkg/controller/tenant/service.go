package tenant

import (
	"fmt"
	"sort"
	"strconv"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/apimachinery/pkg/util/intstr"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
	"github.com/rezenkai/tenant-operator/pkg/util/metadata"
	"github.com/rezenkai/tenant-operator/pkg/util/name"
)

const (
	// ServicePort is the port every tenant Service exposes.
	ServicePort int32 = 80

	// ContainerPort is the port tenant service containers listen on. The
	// health monitor probes /health on this port through the Service
	// endpoints.
	ContainerPort int32 = 8080
)

// BuildServiceDeployment creates the Deployment for one declared service.
func BuildServiceDeployment(tenant *tenantv1alpha1.Tenant, svc tenantv1alpha1.ServiceSpec, scheme *runtime.Scheme) (*appsv1.Deployment, error) {
	resources, err := buildResourceRequirements(tenant)
	if err != nil {
		return nil, err
	}

	labels := metadata.BuildStandardLabels(tenant.Name, metadata.ComponentService)
	metadata.AddServiceLabel(labels, svc.Name)
	podLabels := metadata.MergeLabels(labels, map[string]string{
		metadata.LabelAppVersion: svc.Version,
	})

	replicas := int32(1)
	if svc.Replicas != nil {
		replicas = *svc.Replicas
	}

	deploy := &appsv1.Deployment{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name.Workload(tenant.Name, svc.Name),
			Namespace: name.Namespace(tenant.Name),
			Labels:    labels,
		},
		Spec: appsv1.DeploymentSpec{
			Replicas: ptr.To(replicas),
			Selector: &metav1.LabelSelector{MatchLabels: metadata.GetSelectorLabels(labels)},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: podLabels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  svc.Name,
							Image: fmt.Sprintf("rezenkai/%s:%s", svc.Name, svc.Version),
							Ports: []corev1.ContainerPort{
								{ContainerPort: ContainerPort, Name: "http"},
							},
							Env:       buildServiceEnv(tenant, svc),
							Resources: resources,
							ReadinessProbe: &corev1.Probe{
								ProbeHandler: corev1.ProbeHandler{
									HTTPGet: &corev1.HTTPGetAction{
										Path: "/health",
										Port: intstr.FromInt32(ContainerPort),
									},
								},
								InitialDelaySeconds: 5,
								PeriodSeconds:       10,
							},
						},
					},
				},
			},
		},
	}

	if err := ctrl.SetControllerReference(tenant, deploy, scheme); err != nil {
		return nil, fmt.Errorf("setting controller reference: %w", err)
	}
	return deploy, nil
}

// BuildService creates the ClusterIP Service for one declared service.
func BuildService(tenant *tenantv1alpha1.Tenant, svc tenantv1alpha1.ServiceSpec, scheme *runtime.Scheme) (*corev1.Service, error) {
	labels := metadata.BuildStandardLabels(tenant.Name, metadata.ComponentService)
	metadata.AddServiceLabel(labels, svc.Name)

	service := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name.Service(tenant.Name, svc.Name),
			Namespace: name.Namespace(tenant.Name),
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			Type:     corev1.ServiceTypeClusterIP,
			Selector: metadata.GetSelectorLabels(labels),
			Ports: []corev1.ServicePort{
				{
					Name:       "http",
					Port:       ServicePort,
					TargetPort: intstr.FromInt32(ContainerPort),
					Protocol:   corev1.ProtocolTCP,
				},
			},
		},
	}

	if err := ctrl.SetControllerReference(tenant, service, scheme); err != nil {
		return nil, fmt.Errorf("setting controller reference: %w", err)
	}
	return service, nil
}

// buildServiceEnv assembles the container environment: platform variables
// first, then feature flags, service config in sorted key order, and finally
// any user-declared env.
func buildServiceEnv(tenant *tenantv1alpha1.Tenant, svc tenantv1alpha1.ServiceSpec) []corev1.EnvVar {
	env := []corev1.EnvVar{
		{Name: "TENANT_ID", Value: tenant.Name},
		{Name: "DB_HOST", Value: DatabaseHost(tenant.Name)},
		{Name: "DB_PORT", Value: strconv.Itoa(int(DatabasePort(tenant.Spec.Database.Type)))},
		{
			Name: "DB_USER",
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: name.DatabaseSecret(tenant.Name)},
					Key:                  "username",
				},
			},
		},
		{
			Name: "DB_PASSWORD",
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: name.DatabaseSecret(tenant.Name)},
					Key:                  "password",
				},
			},
		},
		{
			Name: "DB_NAME",
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: name.DatabaseSecret(tenant.Name)},
					Key:                  "database",
				},
			},
		},
	}

	env = append(env, tenant.FeatureEnvVars()...)

	if len(svc.Config) > 0 {
		keys := make([]string, 0, len(svc.Config))
		for k := range svc.Config {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			env = append(env, corev1.EnvVar{Name: k, Value: svc.Config[k]})
		}
	}

	return append(env, svc.Env...)
}

func buildResourceRequirements(tenant *tenantv1alpha1.Tenant) (corev1.ResourceRequirements, error) {
	parse := func(field, val string) (resource.Quantity, error) {
		q, err := resource.ParseQuantity(val)
		if err != nil {
			return resource.Quantity{}, fmt.Errorf("parsing %s quantity %q: %w", field, val, err)
		}
		return q, nil
	}

	cpuReq, err := parse("cpu request", tenant.Spec.Resources.CPU.Request)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}
	cpuLim, err := parse("cpu limit", tenant.Spec.Resources.CPU.Limit)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}
	memReq, err := parse("memory request", tenant.Spec.Resources.Memory.Request)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}
	memLim, err := parse("memory limit", tenant.Spec.Resources.Memory.Limit)
	if err != nil {
		return corev1.ResourceRequirements{}, err
	}

	return corev1.ResourceRequirements{
		Requests: corev1.ResourceList{
			corev1.ResourceCPU:    cpuReq,
			corev1.ResourceMemory: memReq,
		},
		Limits: corev1.ResourceList{
			corev1.ResourceCPU:    cpuLim,
			corev1.ResourceMemory: memLim,
		},
	}, nil
}
