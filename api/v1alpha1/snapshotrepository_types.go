/*
Copyright 2025.

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

    http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/

package v1alpha1

import (
	corev1 "k8s.io/api/core/v1"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
)

// RepositoryPhase represents where a SnapshotRepository stands after the last pass.
// +kubebuilder:validation:Enum=Pending;Converged;Failed
type RepositoryPhase string

const (
	// RepositoryPhasePending indicates the resource has not been reconciled yet.
	RepositoryPhasePending RepositoryPhase = "Pending"
	// RepositoryPhaseConverged indicates the remote repository matches the declaration.
	RepositoryPhaseConverged RepositoryPhase = "Converged"
	// RepositoryPhaseFailed indicates the last pass could not converge the repository.
	RepositoryPhaseFailed RepositoryPhase = "Failed"
)

// ConnectionSpec describes how to reach the Elasticsearch REST endpoint.
// Unset fields use the defaults shown.
type ConnectionSpec struct {
	// Protocol is http or https.
	// +kubebuilder:validation:Enum=http;https
	// +kubebuilder:default=http
	// +optional
	Protocol string `json:"protocol,omitempty"`

	// Host is the Elasticsearch host name or address.
	// +kubebuilder:default=localhost
	// +optional
	Host string `json:"host,omitempty"`

	// Port is the REST port.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:validation:Maximum=65534
	// +kubebuilder:default=9200
	// +optional
	Port *int32 `json:"port,omitempty"`

	// ValidateTLS controls server certificate verification for https.
	// +kubebuilder:default=true
	// +optional
	ValidateTLS *bool `json:"validateTLS,omitempty"`

	// CAFile is a path to a PEM bundle, readable by the operator, used as the trust root.
	// +optional
	CAFile string `json:"caFile,omitempty"`

	// CAPath is a directory of PEM certificates used as the trust root.
	// +optional
	CAPath string `json:"caPath,omitempty"`

	// TimeoutSeconds bounds connection establishment and each request.
	// +kubebuilder:validation:Minimum=1
	// +kubebuilder:default=10
	// +optional
	TimeoutSeconds *int32 `json:"timeoutSeconds,omitempty"`

	// CredentialsSecretRef references a Secret in the same namespace holding
	// "username" and "password" keys for basic authentication.
	// +optional
	CredentialsSecretRef *corev1.LocalObjectReference `json:"credentialsSecretRef,omitempty"`
}

// SnapshotRepositorySpec defines the desired state of an Elasticsearch snapshot repository.
type SnapshotRepositorySpec struct {
	// RepositoryName is the repository name on the cluster. Defaults to metadata.name.
	// +kubebuilder:validation:Pattern=`^[^/]+$`
	// +optional
	RepositoryName string `json:"repositoryName,omitempty"`

	// Ensure is present or absent.
	// +kubebuilder:validation:Enum=present;absent
	// +kubebuilder:default=present
	// +optional
	Ensure string `json:"ensure,omitempty"`

	// Type is the repository type.
	// +kubebuilder:default=fs
	// +optional
	Type string `json:"type,omitempty"`

	// Compress enables metadata compression.
	// +kubebuilder:default=true
	// +optional
	Compress *bool `json:"compress,omitempty"`

	// Location is the repository location. Required when ensure is present.
	// +optional
	Location string `json:"location,omitempty"`

	// ChunkSize splits large files into chunks of this size (e.g. "1g").
	// +optional
	ChunkSize string `json:"chunkSize,omitempty"`

	// MaxRestoreBytesPerSec throttles restores (e.g. "40mb").
	// +optional
	MaxRestoreBytesPerSec string `json:"maxRestoreBytesPerSec,omitempty"`

	// MaxSnapshotBytesPerSec throttles snapshots (e.g. "40mb").
	// +optional
	MaxSnapshotBytesPerSec string `json:"maxSnapshotBytesPerSec,omitempty"`

	// Connection describes the Elasticsearch endpoint.
	// +optional
	Connection ConnectionSpec `json:"connection,omitempty"`
}

// SnapshotRepositoryStatus defines the observed state of SnapshotRepository.
type SnapshotRepositoryStatus struct {
	// Phase summarizes the last pass.
	// +optional
	Phase RepositoryPhase `json:"phase,omitempty"`

	// Outcome is the result of the last pass: converged, created, replaced, destroyed or failed.
	// +optional
	Outcome string `json:"outcome,omitempty"`

	// Message carries the failure message of the last pass, if any.
	// +optional
	Message string `json:"message,omitempty"`

	// ObservedGeneration is the generation the last pass acted on.
	// +optional
	ObservedGeneration int64 `json:"observedGeneration,omitempty"`

	// LastReconcileTime is when the last pass finished.
	// +optional
	LastReconcileTime *metav1.Time `json:"lastReconcileTime,omitempty"`

	// Conditions represent the latest available observations of the repository's state.
	// +optional
	Conditions []metav1.Condition `json:"conditions,omitempty"`
}

// +kubebuilder:object:root=true
// +kubebuilder:subresource:status
// +kubebuilder:resource:shortName=snaprepo
// +kubebuilder:printcolumn:name="Repository",type="string",JSONPath=".spec.repositoryName"
// +kubebuilder:printcolumn:name="Ensure",type="string",JSONPath=".spec.ensure"
// +kubebuilder:printcolumn:name="Phase",type="string",JSONPath=".status.phase"
// +kubebuilder:printcolumn:name="Outcome",type="string",JSONPath=".status.outcome"
// +kubebuilder:printcolumn:name="Age",type="date",JSONPath=".metadata.creationTimestamp"
// +kubebuilder:printcolumn:name="Message",type="string",JSONPath=".status.message",priority=1

// SnapshotRepository declares an Elasticsearch snapshot repository.
type SnapshotRepository struct {
	metav1.TypeMeta   `json:",inline"`
	metav1.ObjectMeta `json:"metadata,omitempty"`

	Spec   SnapshotRepositorySpec   `json:"spec,omitempty"`
	Status SnapshotRepositoryStatus `json:"status,omitempty"`
}

// EffectiveRepositoryName returns spec.repositoryName, or metadata.name when unset.
func (r *SnapshotRepository) EffectiveRepositoryName() string {
	if r.Spec.RepositoryName != "" {
		return r.Spec.RepositoryName
	}
	return r.Name
}

// +kubebuilder:object:root=true

// SnapshotRepositoryList contains a list of SnapshotRepository.
type SnapshotRepositoryList struct {
	metav1.TypeMeta `json:",inline"`
	metav1.ListMeta `json:"metadata,omitempty"`
	Items           []SnapshotRepository `json:"items"`
}

func init() {
	SchemeBuilder.Register(&SnapshotRepository{}, &SnapshotRepositoryList{})
}
