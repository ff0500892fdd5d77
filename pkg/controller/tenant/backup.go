package tenant

import (
	"fmt"

	batchv1 "k8s.io/api/batch/v1"
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/runtime"
	"sigs.k8s.io/controller-runtime/pkg/controller/controllerutil"

	tenantv1alpha1 "github.com/rezenkai/tenant-operator/api/v1alpha1"
	"github.com/rezenkai/tenant-operator/pkg/util/metadata"
	"github.com/rezenkai/tenant-operator/pkg/util/name"
)

// Annotations operators set on a Tenant to request a one-shot backup or
// restore job. The reconciler clears the annotation once the job is created.
const (
	AnnotationBackupRequest  = "tenant.rezenkai.com/backup-request"
	AnnotationRestoreRequest = "tenant.rezenkai.com/restore-request"
)

const (
	backupBucket    = "rezenkai-tenant-backups"
	backupVolume    = "backup-vol"
	backupMountPath = "/backup"
	awsCLIImage     = "amazon/aws-cli:2.17.0"
	awsSecretName   = "aws-credentials"
	backupAccessKey = "access-key-id"
	backupSecretKey = "secret-access-key"
)

// BuildBackupJob creates the Job that dumps the tenant database and uploads
// the dump to object storage. Backup jobs carry a plain owner reference, not
// a controller reference, so a running dump survives Deployment churn but is
// garbage collected with the tenant.
func BuildBackupJob(tenant *tenantv1alpha1.Tenant, backupName string, scheme *runtime.Scheme) (*batchv1.Job, error) {
	dumpFile := fmt.Sprintf("%s/%s.sql", backupMountPath, backupName)

	command, args := dumpCommand(tenant, dumpFile)

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("%s-backup-%s", tenant.Name, backupName),
			Namespace: name.Namespace(tenant.Name),
			Labels:    metadata.BuildStandardLabels(tenant.Name, metadata.ComponentBackup),
		},
		Spec: batchv1.JobSpec{
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: metadata.BuildStandardLabels(tenant.Name, metadata.ComponentBackup),
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyOnFailure,
					// The dump must finish before the upload starts, or a
					// partial dump ends up in object storage.
					InitContainers: []corev1.Container{
						{
							Name:         "dump",
							Image:        databaseImage(tenant),
							Command:      command,
							Args:         args,
							Env:          backupDatabaseEnv(tenant),
							VolumeMounts: backupMounts(),
						},
					},
					Containers: []corev1.Container{
						{
							Name:  "upload",
							Image: awsCLIImage,
							Command: []string{
								"aws", "s3", "cp", dumpFile,
								objectStorePath(tenant.Name, backupName),
							},
							Env:          awsEnv(),
							VolumeMounts: backupMounts(),
						},
					},
					Volumes: backupVolumes(),
				},
			},
		},
	}

	if err := controllerutil.SetOwnerReference(tenant, job, scheme); err != nil {
		return nil, fmt.Errorf("setting owner reference: %w", err)
	}
	return job, nil
}

// BuildRestoreJob creates the Job that downloads a named dump from object
// storage and loads it into the tenant database.
func BuildRestoreJob(tenant *tenantv1alpha1.Tenant, restoreName string, scheme *runtime.Scheme) (*batchv1.Job, error) {
	dumpFile := fmt.Sprintf("%s/%s.sql", backupMountPath, restoreName)

	command, args := restoreCommand(tenant, dumpFile)

	job := &batchv1.Job{
		ObjectMeta: metav1.ObjectMeta{
			Name:      fmt.Sprintf("%s-restore-%s", tenant.Name, restoreName),
			Namespace: name.Namespace(tenant.Name),
			Labels:    metadata.BuildStandardLabels(tenant.Name, metadata.ComponentBackup),
		},
		Spec: batchv1.JobSpec{
			Template: corev1.PodTemplateSpec{
				ObjectMeta: metav1.ObjectMeta{
					Labels: metadata.BuildStandardLabels(tenant.Name, metadata.ComponentBackup),
				},
				Spec: corev1.PodSpec{
					RestartPolicy: corev1.RestartPolicyOnFailure,
					InitContainers: []corev1.Container{
						{
							Name:  "download",
							Image: awsCLIImage,
							Command: []string{
								"aws", "s3", "cp",
								objectStorePath(tenant.Name, restoreName), dumpFile,
							},
							Env:          awsEnv(),
							VolumeMounts: backupMounts(),
						},
					},
					Containers: []corev1.Container{
						{
							Name:         "restore",
							Image:        databaseImage(tenant),
							Command:      command,
							Args:         args,
							Env:          backupDatabaseEnv(tenant),
							VolumeMounts: backupMounts(),
						},
					},
					Volumes: backupVolumes(),
				},
			},
		},
	}

	if err := controllerutil.SetOwnerReference(tenant, job, scheme); err != nil {
		return nil, fmt.Errorf("setting owner reference: %w", err)
	}
	return job, nil
}

func dumpCommand(tenant *tenantv1alpha1.Tenant, dumpFile string) ([]string, []string) {
	user := "tenant_" + tenant.Name
	db := fmt.Sprintf("tenant_%s_db", tenant.Name)
	host := name.DatabaseService(tenant.Name)

	if tenant.Spec.Database.Type == "mysql" {
		return []string{"mysqldump"}, []string{
			"-h", host,
			"-u", user,
			"--databases", db,
			"--result-file", dumpFile,
		}
	}
	return []string{"pg_dump"}, []string{
		"-h", host,
		"-U", user,
		"-d", db,
		"--file", dumpFile,
	}
}

func restoreCommand(tenant *tenantv1alpha1.Tenant, dumpFile string) ([]string, []string) {
	user := "tenant_" + tenant.Name
	db := fmt.Sprintf("tenant_%s_db", tenant.Name)
	host := name.DatabaseService(tenant.Name)

	if tenant.Spec.Database.Type == "mysql" {
		return []string{"mysql"}, []string{
			"-h", host,
			"-u", user,
			db,
		}
	}
	return []string{"psql"}, []string{
		"-h", host,
		"-U", user,
		"-d", db,
		"--file", dumpFile,
	}
}

func databaseImage(tenant *tenantv1alpha1.Tenant) string {
	return fmt.Sprintf("%s:%s", tenant.Spec.Database.Type, tenant.Spec.Database.Version)
}

func objectStorePath(tenant, dump string) string {
	return fmt.Sprintf("s3://%s/%s/%s.sql", backupBucket, tenant, dump)
}

func backupDatabaseEnv(tenant *tenantv1alpha1.Tenant) []corev1.EnvVar {
	passwordVar := "PGPASSWORD"
	if tenant.Spec.Database.Type == "mysql" {
		passwordVar = "MYSQL_PWD"
	}
	return []corev1.EnvVar{
		{
			Name: passwordVar,
			ValueFrom: &corev1.EnvVarSource{
				SecretKeyRef: &corev1.SecretKeySelector{
					LocalObjectReference: corev1.LocalObjectReference{Name: name.DatabaseSecret(tenant.Name)},
					Key:                  "password",
				},
			},
		},
	}
}

func awsEnv() []corev1.EnvVar {
	secretRef := func(key string) *corev1.EnvVarSource {
		return &corev1.EnvVarSource{
			SecretKeyRef: &corev1.SecretKeySelector{
				LocalObjectReference: corev1.LocalObjectReference{Name: awsSecretName},
				Key:                  key,
			},
		}
	}
	return []corev1.EnvVar{
		{Name: "AWS_ACCESS_KEY_ID", ValueFrom: secretRef(backupAccessKey)},
		{Name: "AWS_SECRET_ACCESS_KEY", ValueFrom: secretRef(backupSecretKey)},
	}
}

func backupMounts() []corev1.VolumeMount {
	return []corev1.VolumeMount{{Name: backupVolume, MountPath: backupMountPath}}
}

func backupVolumes() []corev1.Volume {
	return []corev1.Volume{
		{Name: backupVolume, VolumeSource: corev1.VolumeSource{EmptyDir: &corev1.EmptyDirVolumeSource{}}},
	}
}
