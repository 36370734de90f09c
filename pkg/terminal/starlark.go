package terminal

import (
	"github.com/memctl/memctl/pkg/terminal/starbind"
	"github.com/memctl/memctl/service"
	"github.com/memctl/memctl/service/api"
)

type starlarkContext struct {
	term *Term
}

var _ starbind.Context = starlarkContext{}

func (ctx starlarkContext) Client() service.Client {
	return ctx.term.client
}

func (ctx starlarkContext) RegisterCommand(name, helpMsg string, fn func(args string) error) {
	ctx.term.cmds.Register(name, func(t *Term, args string) error {
		return fn(args)
	}, helpMsg)
}

func (ctx starlarkContext) CallCommand(cmdstr string) error {
	return ctx.term.cmds.Call(cmdstr, ctx.term)
}

func (ctx starlarkContext) Location(spec string) (api.Location, error) {
	return ctx.term.location(spec, nil)
}

func (ctx starlarkContext) DefaultEncoding() string {
	return ctx.term.conf.Encoding()
}
