package server

import (
	"context"
	"errors"
	"fmt"
	"slices"

	"github.com/alphadose/haxmap"
	"github.com/namikmesic/chatkit/completion"
	"github.com/namikmesic/chatkit/deployment"
)

type (
	TokenizeFunc       func(ctx context.Context, req *deployment.TokenizeRequest) (*deployment.TokenizeResponse, error)
	TruncatePromptFunc func(ctx context.Context, req *deployment.TruncatePromptRequest) (*deployment.TruncatePromptResponse, error)
	RateFunc           func(ctx context.Context, req *deployment.RateRequest) error
)

// Deployment is the set of endpoints one deployment implements. Only
// ChatCompletion is mandatory; the others answer 404 when nil.
type Deployment struct {
	ChatCompletion completion.Producer
	Tokenize       TokenizeFunc
	TruncatePrompt TruncatePromptFunc
	Rate           RateFunc
}

var ErrNoChatCompletion = errors.New("deployment has no chat completion handler")

// Router maps deployment ids to their handlers.
type Router struct {
	deployments *haxmap.Map[string, *Deployment]
}

func NewRouter() *Router {
	return &Router{deployments: haxmap.New[string, *Deployment]()}
}

// Register adds or replaces a deployment.
func (r *Router) Register(id string, d Deployment) error {
	if id == "" {
		return fmt.Errorf("register deployment: empty id")
	}
	if d.ChatCompletion == nil {
		return fmt.Errorf("register deployment %q: %w", id, ErrNoChatCompletion)
	}
	r.deployments.Set(id, &d)
	return nil
}

func (r *Router) Lookup(id string) (*Deployment, bool) {
	return r.deployments.Get(id)
}

// Deployments returns the registered ids in lexical order.
func (r *Router) Deployments() []string {
	var ids []string
	r.deployments.ForEach(func(id string, _ *Deployment) bool {
		ids = append(ids, id)
		return true
	})
	slices.Sort(ids)
	return ids
}
