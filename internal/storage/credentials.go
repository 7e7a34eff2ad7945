package storage

import (
	"context"
	"fmt"

	corev1 "k8s.io/api/core/v1"
	"k8s.io/apimachinery/pkg/types"
	"sigs.k8s.io/controller-runtime/pkg/client"

	"github.com/dc-tec/snaprepo-operator/internal/constants"
	operatorerrors "github.com/dc-tec/snaprepo-operator/internal/errors"
)

// BasicAuth holds Elasticsearch credentials read from a Kubernetes Secret.
type BasicAuth struct {
	Username string
	Password string
}

// LoadBasicAuth loads Elasticsearch credentials from a Kubernetes Secret.
// If secretRef is nil, returns nil (anonymous access).
// The Secret must contain both username and password, or neither; a
// half-filled Secret is a validation error.
func LoadBasicAuth(ctx context.Context, c client.Reader, secretRef *corev1.LocalObjectReference, namespace string) (*BasicAuth, error) {
	if secretRef == nil || secretRef.Name == "" {
		return nil, nil
	}

	secret := &corev1.Secret{}
	if err := c.Get(ctx, types.NamespacedName{
		Namespace: namespace,
		Name:      secretRef.Name,
	}, secret); err != nil {
		return nil, fmt.Errorf("failed to get credentials Secret %s/%s: %w", namespace, secretRef.Name, err)
	}

	auth := &BasicAuth{
		Username: string(secret.Data[constants.SecretKeyUsername]),
		Password: string(secret.Data[constants.SecretKeyPassword]),
	}

	if (auth.Username != "") != (auth.Password != "") {
		return nil, operatorerrors.NewValidationError("credentialsSecretRef", namespace+"/"+secretRef.Name,
			fmt.Sprintf("Secret must contain both %s and %s, or neither", constants.SecretKeyUsername, constants.SecretKeyPassword))
	}
	if auth.Username == "" {
		return nil, nil
	}
	return auth, nil
}
