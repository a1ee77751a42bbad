package provider

import (
	"context"
	"encoding/json"
	"fmt"

	apierrors "k8s.io/apimachinery/pkg/api/errors"
	metav1 "k8s.io/apimachinery/pkg/apis/meta/v1"
	"k8s.io/apimachinery/pkg/apis/meta/v1/unstructured"
	"k8s.io/apimachinery/pkg/runtime/schema"
	"k8s.io/apimachinery/pkg/types"
	"k8s.io/client-go/dynamic"

	"github.com/acteon-dev/acteon/internal/action"
)

// KubernetesProvider applies or patches an unstructured Kubernetes
// object described by the action payload, using the dynamic client so
// the gateway stays agnostic to which CRDs or core types are targeted.
type KubernetesProvider struct {
	name     string
	client   dynamic.Interface
	resource schema.GroupVersionResource
	ns       string
}

func NewKubernetesProvider(name string, client dynamic.Interface, resource schema.GroupVersionResource, namespace string) *KubernetesProvider {
	return &KubernetesProvider{name: name, client: client, resource: resource, ns: namespace}
}

func (p *KubernetesProvider) Name() string { return p.name }

func (p *KubernetesProvider) SupportsAttachments() bool { return false }

func (p *KubernetesProvider) Execute(ctx context.Context, act *action.Action) (Result, error) {
	var obj unstructured.Unstructured
	if err := json.Unmarshal(act.Payload, &obj.Object); err != nil {
		return Result{Retryable: false}, fmt.Errorf("decode action payload as object: %w", err)
	}

	res := p.client.Resource(p.resource).Namespace(p.ns)
	_, err := res.Create(ctx, &obj, metav1.CreateOptions{})
	if apierrors.IsAlreadyExists(err) {
		patch, merr := json.Marshal(obj.Object)
		if merr != nil {
			return Result{}, merr
		}
		_, err = res.Patch(ctx, obj.GetName(), types.MergePatchType, patch, metav1.PatchOptions{})
	}
	if err != nil {
		return Result{Retryable: true}, fmt.Errorf("apply kubernetes object: %w", err)
	}
	return Result{Success: true}, nil
}

func (p *KubernetesProvider) HealthCheck(ctx context.Context) error {
	_, err := p.client.Resource(p.resource).Namespace(p.ns).List(ctx, metav1.ListOptions{})
	if err != nil {
		return fmt.Errorf("kubernetes list health check: %w", err)
	}
	return nil
}
