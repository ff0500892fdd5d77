package tenant

import (
	"crypto/rand"
	"encoding/hex"
	"fmt"

	appsv1 "k8s.io/api/apps/v1"
	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/api/resource"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"k8s.io/utils/ptr"
	ctrl "sigs.k8s.io/controller-runtime"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
	"github.com/rezenkai/tenant-operator/pkg/util/metadata"
	"github.com/rezenkai/tenant-operator/pkg/util/name"
	"github.com/rezenkai/tenant-operator/pkg/util/pvc"
)

const (
	// DataVolumeName is the name of the database data volume.
	DataVolumeName = "db-storage"

	postgresPort int32 = 5432
	mysqlPort    int32 = 3306
)

// DatabasePort returns the engine port for the tenant's database type.
func DatabasePort(dbType string) int32 {
	if dbType == "mysql" {
		return mysqlPort
	}
	return postgresPort
}

// DatabaseHost returns the in-cluster DNS name services use to reach the
// tenant database.
func DatabaseHost(tenant string) string {
	return fmt.Sprintf("%s.%s.svc.cluster.local", name.DatabaseService(tenant), name.Namespace(tenant))
}

// BuildDatabaseSecret creates the credentials Secret for the tenant database.
// The password is generated fresh on every call, so callers must only create
// this Secret when absent and never overwrite an existing one.
func BuildDatabaseSecret(tenant *tenantv1alpha1.Tenant, scheme *runtime.Scheme) (*corev1.Secret, error) {
	password, err := generatePassword()
	if err != nil {
		return nil, fmt.Errorf("generating database password: %w", err)
	}

	secret := &corev1.Secret{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name.DatabaseSecret(tenant.Name),
			Namespace: name.Namespace(tenant.Name),
			Labels:    metadata.BuildStandardLabels(tenant.Name, metadata.ComponentDatabase),
		},
		Type: corev1.SecretTypeOpaque,
		Data: map[string][]byte{
			"username": []byte("tenant_" + tenant.Name),
			"password": []byte(password),
			"database": []byte(fmt.Sprintf("tenant_%s_db", tenant.Name)),
		},
	}

	if err := ctrl.SetControllerReference(tenant, secret, scheme); err != nil {
		return nil, fmt.Errorf("setting controller reference: %w", err)
	}
	return secret, nil
}

// BuildDatabaseStatefulSet creates the single-replica database StatefulSet
// for the tenant.
func BuildDatabaseStatefulSet(tenant *tenantv1alpha1.Tenant, scheme *runtime.Scheme) (*appsv1.StatefulSet, error) {
	storageSize, err := resource.ParseQuantity(tenant.Spec.Resources.Storage.Size)
	if err != nil {
		return nil, fmt.Errorf("parsing storage size: %w", err)
	}

	dbType := tenant.Spec.Database.Type
	labels := metadata.BuildStandardLabels(tenant.Name, metadata.ComponentDatabase)
	selector := metadata.GetSelectorLabels(labels)
	secretName := name.DatabaseSecret(tenant.Name)

	pvcSpec := corev1.PersistentVolumeClaimSpec{
		AccessModes: []corev1.PersistentVolumeAccessMode{corev1.ReadWriteOnce},
		Resources: corev1.VolumeResourceRequirements{
			Requests: corev1.ResourceList{corev1.ResourceStorage: storageSize},
		},
	}
	if tenant.Spec.Resources.Storage.Class != "" {
		pvcSpec.StorageClassName = ptr.To(tenant.Spec.Resources.Storage.Class)
	}

	sts := &appsv1.StatefulSet{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name.Database(tenant.Name),
			Namespace: name.Namespace(tenant.Name),
			Labels:    labels,
		},
		Spec: appsv1.StatefulSetSpec{
			ServiceName: name.DatabaseService(tenant.Name),
			Replicas:    ptr.To(int32(1)),
			Selector:    &metav1.LabelSelector{MatchLabels: selector},
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{Labels: labels},
				Spec: corev1.PodSpec{
					Containers: []corev1.Container{
						{
							Name:  dbType,
							Image: fmt.Sprintf("%s:%s", dbType, tenant.Spec.Database.Version),
							Ports: []corev1.ContainerPort{
								{ContainerPort: DatabasePort(dbType), Name: dbType},
							},
							Env: databaseEnv(dbType, secretName),
							VolumeMounts: []corev1.VolumeMount{
								{Name: DataVolumeName, MountPath: dataMountPath(dbType)},
							},
						},
					},
				},
			},
			VolumeClaimTemplates: []corev1.PersistentVolumeClaim{
				{
					ObjectMeta: metav1.ObjectMeta{Name: DataVolumeName},
					Spec:       pvcSpec,
				},
			},
			PersistentVolumeClaimRetentionPolicy: pvc.BuildRetentionPolicy(tenant.Annotations),
		},
	}

	if err := ctrl.SetControllerReference(tenant, sts, scheme); err != nil {
		return nil, fmt.Errorf("setting controller reference: %w", err)
	}
	return sts, nil
}

// BuildDatabaseService creates the headless Service fronting the database
// StatefulSet.
func BuildDatabaseService(tenant *tenantv1alpha1.Tenant, scheme *runtime.Scheme) (*corev1.Service, error) {
	dbType := tenant.Spec.Database.Type
	labels := metadata.BuildStandardLabels(tenant.Name, metadata.ComponentDatabase)

	svc := &corev1.Service{
		ObjectMeta: metav1.ObjectMeta{
			Name:      name.DatabaseService(tenant.Name),
			Namespace: name.Namespace(tenant.Name),
			Labels:    labels,
		},
		Spec: corev1.ServiceSpec{
			ClusterIP: corev1.ClusterIPNone,
			Selector:  metadata.GetSelectorLabels(labels),
			Ports: []corev1.ServicePort{
				{Name: dbType, Port: DatabasePort(dbType), Protocol: corev1.ProtocolTCP},
			},
		},
	}

	if err := ctrl.SetControllerReference(tenant, svc, scheme); err != nil {
		return nil, fmt.Errorf("setting controller reference: %w", err)
	}
	return svc, nil
}

func databaseEnv(dbType, secretName string) []corev1.EnvVar {
	secretRef := func(key string) *corev1.EnvVarSource {
		return &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: secretName},
				Key:                  key,
			},
		}
	}

	if dbType == "mysql" {
		return []corev1.EnvVar{
			{Name: "MYSQL_USER", ValueFrom: secretRef("username")},
			{Name: "MYSQL_PASSWORD", ValueFrom: secretRef("password")},
			{Name: "MYSQL_DATABASE", ValueFrom: secretRef("database")},
			{Name: "MYSQL_RANDOM_ROOT_PASSWORD", Value: "yes"},
		}
	}
	return []corev1.EnvVar{
		{Name: "POSTGRES_USER", ValueFrom: secretRef("username")},
		{Name: "POSTGRES_PASSWORD", ValueFrom: secretRef("password")},
		{Name: "POSTGRES_DB", ValueFrom: secretRef("database")},
	}
}

func dataMountPath(dbType string) string {
	if dbType == "mysql" {
		return "/var/lib/mysql"
	}
	return "/var/lib/postgresql/data"
}

func generatePassword() (string, error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf), nil
}
