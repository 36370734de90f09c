package rpccommon

import (
	"errors"
	"fmt"
	"io"
	"net"
	"net/rpc"
	"net/rpc/jsonrpc"
	"reflect"
	"sync"
	"unicode"
	"unicode/utf8"

	"github.com/memctl/memctl/pkg/logflags"
	"github.com/memctl/memctl/pkg/proc"
	"github.com/memctl/memctl/pkg/proc/native"
	"github.com/memctl/memctl/pkg/version"
	"github.com/memctl/memctl/service"
	"github.com/memctl/memctl/service/api"
	"github.com/memctl/memctl/service/rpc2"
)

const apiVersion = 2

// ServerImpl implements a JSON-RPC server exposing a memory engine.
type ServerImpl struct {
	// config is all the information necessary to start the engine and server.
	config *service.Config
	// listener is used to serve JSON-RPC.
	listener net.Listener
	// stopChan is used to stop the listener goroutine.
	stopChan chan struct{}
	stopOnce sync.Once
	// engine is the memory engine requests are served from.
	engine *proc.Engine
	// s2 is the API server.
	s2 *rpc2.RPCServer
	// methods served, indexed by "RPCServer.Method".
	methodMap map[string]*methodType
	log       logflags.Logger
}

// RPCServer implements the RPC method calls common to all versions of the API.
type RPCServer struct {
	s *ServerImpl
}

type methodType struct {
	method    reflect.Method
	Rcvr      reflect.Value
	ArgType   reflect.Type
	ReplyType reflect.Type
}

// NewServer creates a new RPCServer.
func NewServer(config *service.Config) *ServerImpl {
	return &ServerImpl{
		config:   config,
		listener: config.Listener,
		stopChan: make(chan struct{}),
		log:      logflags.RPCLogger(),
	}
}

// Stop stops the JSON-RPC server and releases the target.
func (s *ServerImpl) Stop() error {
	s.log.Debug("stopping")
	s.stopOnce.Do(func() {
		close(s.stopChan)
		s.listener.Close()
	})
	if s.engine != nil {
		return s.engine.Close()
	}
	return nil
}

// Run attaches the engine and starts serving on the listener. The engine
// itself can be released with the Detach API. Run does not block.
func (s *ServerImpl) Run() error {
	finder := s.config.Finder
	if finder == nil {
		finder = native.NewFinder()
	}
	opts := []proc.Option{
		proc.WithFreezeInterval(s.config.FreezeInterval),
		proc.WithFreezeThreshold(s.config.FreezeThreshold),
	}

	if s.config.AttachPid != 0 {
		var err error
		if s.engine, err = proc.NewFromPid(s.config.AttachPid, finder, opts...); err != nil {
			return err
		}
	} else {
		if s.config.AttachName == "" {
			return errors.New("no process to attach to")
		}
		s.engine = proc.New(s.config.AttachName, finder, opts...)
	}
	if s.engine.IsOpen() {
		s.log.Infof("attached to %s (pid %d)", s.engine.Name(), s.engine.Pid())
	} else {
		s.log.Infof("waiting for process %s", s.engine.Name())
	}

	s.s2 = rpc2.NewServer(s.config, s.engine)

	s.methodMap = map[string]*methodType{}
	suitableMethods(s.s2, s.methodMap, s.log)
	suitableMethods(&RPCServer{s}, s.methodMap, s.log)

	go func() {
		defer s.listener.Close()
		for {
			c, err := s.listener.Accept()
			if err != nil {
				select {
				case <-s.stopChan:
					// We were supposed to exit, do nothing and return
					return
				default:
					s.log.Errorf("accept: %v", err)
					return
				}
			}
			go s.serveJSONCodec(c)
			if !s.config.AcceptMulti {
				break
			}
		}
	}()
	return nil
}

var typeOfError = reflect.TypeOf((*error)(nil)).Elem()

// exported reports whether t, or the type it points to, can be decoded by
// the codec: an exported named type or a builtin one.
func exported(t reflect.Type) bool {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t.PkgPath() == "" {
		return true
	}
	r, _ := utf8.DecodeRuneInString(t.Name())
	return unicode.IsUpper(r)
}

// checkSignature returns why a method of type mtype, receiver included, can
// not be served, or nil. Served methods look like
//
//	func (rcvr *T) Method(in InputType, out *ReplyType) error
func checkSignature(mtype reflect.Type) error {
	switch {
	case mtype.NumIn() != 3:
		return fmt.Errorf("%d arguments instead of 2", mtype.NumIn()-1)
	case !exported(mtype.In(1)):
		return fmt.Errorf("argument type %v not exported", mtype.In(1))
	case mtype.In(2).Kind() != reflect.Ptr:
		return fmt.Errorf("reply type %v not a pointer", mtype.In(2))
	case !exported(mtype.In(2)):
		return fmt.Errorf("reply type %v not exported", mtype.In(2))
	case mtype.NumOut() != 1 || mtype.Out(0) != typeOfError:
		return errors.New("does not return only an error")
	}
	return nil
}

// suitableMethods adds to methods every exported method of rcvr with the
// signature of an API call, under "Type.Method".
func suitableMethods(rcvr interface{}, methods map[string]*methodType, log logflags.Logger) {
	rcvrv := reflect.ValueOf(rcvr)
	typ := rcvrv.Type()
	sname := reflect.Indirect(rcvrv).Type().Name()
	if sname == "" {
		log.Debugf("no service name for type %s", typ)
		return
	}
	for i := 0; i < typ.NumMethod(); i++ {
		m := typ.Method(i)
		if m.PkgPath != "" {
			continue
		}
		if err := checkSignature(m.Type); err != nil {
			log.Warnf("%s.%s not served: %v", sname, m.Name, err)
			continue
		}
		methods[sname+"."+m.Name] = &methodType{method: m, Rcvr: rcvrv, ArgType: m.Type.In(1), ReplyType: m.Type.In(2)}
	}
}

// decodeArg reads the body of a request into a new value of mtype's
// argument type.
func decodeArg(codec rpc.ServerCodec, mtype *methodType) (reflect.Value, error) {
	if mtype.ArgType.Kind() == reflect.Ptr {
		argv := reflect.New(mtype.ArgType.Elem())
		return argv, codec.ReadRequestBody(argv.Interface())
	}
	argv := reflect.New(mtype.ArgType)
	err := codec.ReadRequestBody(argv.Interface())
	return argv.Elem(), err
}

// call invokes the method. A panic in the method is reported to the client
// as an error instead of bringing down the server and its freezes.
func (mtype *methodType) call(argv reflect.Value) (reply interface{}, errmsg string) {
	replyv := reflect.New(mtype.ReplyType.Elem())
	defer func() {
		if r := recover(); r != nil {
			reply, errmsg = replyv.Interface(), fmt.Sprintf("internal error: %v", r)
		}
	}()
	ret := mtype.method.Func.Call([]reflect.Value{mtype.Rcvr, argv, replyv})
	if err, _ := ret[0].Interface().(error); err != nil {
		return replyv.Interface(), err.Error()
	}
	return replyv.Interface(), ""
}

// serveJSONCodec serves the requests of a single connection, one at a time,
// until the client goes away.
func (s *ServerImpl) serveJSONCodec(conn io.ReadWriteCloser) {
	defer func() {
		if !s.config.AcceptMulti && s.config.DisconnectChan != nil {
			close(s.config.DisconnectChan)
			s.config.DisconnectChan = nil
		}
	}()

	codec := jsonrpc.NewServerCodec(conn)
	defer codec.Close()
	for {
		var req rpc.Request
		if err := codec.ReadRequestHeader(&req); err != nil {
			if err != io.EOF {
				s.log.Errorf("reading request: %v", err)
			}
			return
		}

		mtype, ok := s.methodMap[req.ServiceMethod]
		if !ok {
			s.log.Errorf("unknown method %s", req.ServiceMethod)
			codec.ReadRequestBody(nil)
			s.sendResponse(codec, &req, nil, "rpc: can't find method "+req.ServiceMethod)
			continue
		}
		argv, err := decodeArg(codec, mtype)
		if err != nil {
			s.log.Errorf("decoding %s: %v", req.ServiceMethod, err)
			return
		}
		if logflags.RPC() {
			s.log.Debugf("<- %s(%T%+v)", req.ServiceMethod, argv.Interface(), argv.Interface())
		}
		reply, errmsg := mtype.call(argv)
		if logflags.RPC() {
			s.log.Debugf("-> %T%+v error: %q", reply, reply, errmsg)
		}
		s.sendResponse(codec, &req, reply, errmsg)
	}
}

// sendResponse answers req. When errmsg is set the reply is replaced by an
// empty placeholder, clients never decode it.
func (s *ServerImpl) sendResponse(codec rpc.ServerCodec, req *rpc.Request, reply interface{}, errmsg string) {
	resp := rpc.Response{ServiceMethod: req.ServiceMethod, Seq: req.Seq, Error: errmsg}
	if errmsg != "" {
		reply = struct{}{}
	}
	if err := codec.WriteResponse(&resp, reply); err != nil {
		s.log.Errorf("writing response: %v", err)
	}
}

// GetVersion returns the version of memctl as well as the API version
// currently served.
func (s *RPCServer) GetVersion(args api.GetVersionIn, out *api.GetVersionOut) error {
	out.MemctlVersion = version.MemctlVersion.String()
	out.APIVersion = apiVersion
	return nil
}
