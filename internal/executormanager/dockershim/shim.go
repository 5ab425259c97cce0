package dockershim

import (
	"context"
	"fmt"

	"github.com/flame-sh/flame/internal/flame/model"
	"github.com/flame-sh/flame/internal/flame/shim"
)

// Shim is the shim.Shim adapter backing one executor's session with a
// single long-lived container: OnSessionEnter creates and starts it,
// OnTaskInvoke runs the application's command as an exec inside it
// feeding the task's input on stdin, and OnSessionLeave removes it.
type Shim struct {
	client *Client
	app    *model.Application

	containerID string
}

// New builds a Shim that will run app's command in a container built
// from the client's configured daemon.
func New(client *Client, app *model.Application) *Shim {
	return &Shim{client: client, app: app}
}

func (s *Shim) OnSessionEnter(ctx context.Context, sctx *shim.SessionContext) error {
	env := make([]string, 0, len(s.app.Environment)+1)
	for k, v := range s.app.Environment {
		env = append(env, fmt.Sprintf("%s=%s", k, v))
	}
	env = append(env, fmt.Sprintf("FLAME_SSN_ID=%d", sctx.SsnID))

	name := fmt.Sprintf("flame-ssn-%d", sctx.SsnID)
	id, err := s.client.CreateContainer(ctx, ContainerConfig{
		Name:       name,
		Image:      s.app.URL,
		Cmd:        s.app.Arguments,
		Env:        env,
		WorkingDir: s.app.WorkingDir,
		Labels:     map[string]string{"flame.ssn_id": fmt.Sprintf("%d", sctx.SsnID), "flame.application": s.app.Name},
	})
	if err != nil {
		return err
	}
	if err := s.client.StartContainer(ctx, id); err != nil {
		return err
	}
	s.containerID = id
	return nil
}

func (s *Shim) OnTaskInvoke(ctx context.Context, tctx *shim.TaskContext) ([]byte, error) {
	argv := s.app.Arguments
	if len(argv) == 0 {
		argv = []string{s.app.Command}
	}
	return s.client.ExecTask(ctx, s.containerID, argv, tctx.Input)
}

func (s *Shim) OnSessionLeave(ctx context.Context) error {
	if s.containerID == "" {
		return nil
	}
	return s.client.RemoveContainer(ctx, s.containerID)
}

var _ shim.Shim = (*Shim)(nil)
