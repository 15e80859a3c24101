package sandbox

import (
	"context"
	"errors"
	"fmt"

	"github.com/tetratelabs/wazero"
	"github.com/tetratelabs/wazero/api"

	"github.com/seantiz/wart/internal/bridge"
	"github.com/seantiz/wart/internal/frame"
	"github.com/seantiz/wart/internal/session"
)

const hostModuleName = "imports"

var errNoRun = errors.New("called outside of a run")

// run is the per-run state host functions find in their context.
type run struct {
	imports  bridge.Imports
	deadline *deadline
}

type runKey struct{}

func withRun(ctx context.Context, r *run) context.Context {
	return context.WithValue(ctx, runKey{}, r)
}

// enter marks the start of a host call. The caller must defer r.leave().
func enter(ctx context.Context, name string) *run {
	r, _ := ctx.Value(runKey{}).(*run)
	if r == nil {
		panic(&HostImportError{Import: name, Err: errNoRun})
	}
	hostCallsTotal.WithLabelValues(name).Inc()
	r.deadline.enter()
	return r
}

func (r *run) leave() { r.deadline.exit() }

// read returns a view of guest memory. Out of range reads abort the run.
func read(m api.Module, name string, ptr, n uint32) []byte {
	mem := m.Memory()
	if mem == nil {
		panic(&HostImportError{Import: name, Err: errors.New("guest has no memory")})
	}
	b, ok := mem.Read(ptr, n)
	if !ok {
		panic(&HostImportError{Import: name, Err: fmt.Errorf("read [%d, %d) out of range", ptr, uint64(ptr)+uint64(n))})
	}
	return b
}

func readString(m api.Module, name string, ptr, n uint32) string {
	return string(read(m, name, ptr, n))
}

func code(err error) int32 { return bridge.KindOf(err).Code() }

var invalid = bridge.KindInvalidArgument.Code()

var hostFuncs = map[string]any{
	"log":             hostLog,
	"log_enabled":     hostLogEnabled,
	"select_nodes":    hostSelectNodes,
	"select_edges":    hostSelectEdges,
	"new_table":       hostNewTable,
	"push_row":        hostPushRow,
	"table_size":      hostTableSize,
	"choice_nodes":    hostChoiceNodes,
	"query_node":      hostQueryNode,
	"query_neighbors": hostQueryNeighbors,
	"query_kv":        hostQueryKV,
	"update_kv":       hostUpdateKV,
	"future_get":      hostFutureGet,
	"future_drop":     hostFutureDrop,
}

func hostModule(rt wazero.Runtime) wazero.HostModuleBuilder {
	b := rt.NewHostModuleBuilder(hostModuleName)
	for name, fn := range hostFuncs {
		b = b.NewFunctionBuilder().WithFunc(fn).Export(name)
	}
	return b
}

func hostLog(ctx context.Context, m api.Module, level int32, ptr, n uint32) {
	r := enter(ctx, "log")
	defer r.leave()
	line := readString(m, "log", ptr, n)
	r.imports.Log(bridge.Level(level), line)
}

func hostLogEnabled(ctx context.Context, level int32) int32 {
	r := enter(ctx, "log_enabled")
	defer r.leave()
	if r.imports.LogEnabled(bridge.Level(level)) {
		return 1
	}
	return 0
}

func hostSelectNodes(ctx context.Context, m api.Module, ptr, n uint32) int64 {
	r := enter(ctx, "select_nodes")
	defer r.leave()
	ids, err := frame.DecodeVector(read(m, "select_nodes", ptr, n))
	if err != nil {
		return 0
	}
	return r.imports.SelectNodes(ids)
}

func hostSelectEdges(ctx context.Context, m api.Module, srcPtr, srcLen, dstPtr, dstLen uint32) int64 {
	r := enter(ctx, "select_edges")
	defer r.leave()
	src, err := frame.DecodeVector(read(m, "select_edges", srcPtr, srcLen))
	if err != nil {
		return 0
	}
	dst, err := frame.DecodeVector(read(m, "select_edges", dstPtr, dstLen))
	if err != nil {
		return 0
	}
	return r.imports.SelectEdges(src, dst)
}

func hostNewTable(ctx context.Context, m api.Module, namePtr, nameLen, rowPtr, rowLen uint32) int32 {
	r := enter(ctx, "new_table")
	defer r.leave()
	name := readString(m, "new_table", namePtr, nameLen)
	row, err := frame.DecodeRow(read(m, "new_table", rowPtr, rowLen))
	if err != nil {
		return invalid
	}
	h, err := r.imports.NewTable(name, row)
	if err != nil {
		return code(err)
	}
	return h
}

func hostPushRow(ctx context.Context, m api.Module, table int32, rowPtr, rowLen uint32) int32 {
	r := enter(ctx, "push_row")
	defer r.leave()
	row, err := frame.DecodeRow(read(m, "push_row", rowPtr, rowLen))
	if err != nil {
		return invalid
	}
	return code(r.imports.PushRow(table, row))
}

func hostTableSize(ctx context.Context, table int32) int64 {
	r := enter(ctx, "table_size")
	defer r.leave()
	n, err := r.imports.TableSize(table)
	if err != nil {
		return int64(code(err))
	}
	return n
}

func hostChoiceNodes(ctx context.Context, m api.Module, tagPtr, tagLen uint32, count int32) int32 {
	r := enter(ctx, "choice_nodes")
	defer r.leave()
	tag := readString(m, "choice_nodes", tagPtr, tagLen)
	h, err := r.imports.ChoiceNodes(ctx, tag, count)
	if err != nil {
		return code(err)
	}
	return h
}

// nodeQuery decodes the (id, tag, keys) arguments shared by query_node and
// query_neighbors.
func nodeQuery(m api.Module, name string, idPtr, idLen, tagPtr, tagLen, keysPtr, keysLen uint32) (frame.Value, string, []string, error) {
	id, err := frame.DecodeValue(read(m, name, idPtr, idLen))
	if err != nil {
		return frame.Value{}, "", nil, err
	}
	tag := readString(m, name, tagPtr, tagLen)
	keys, err := frame.DecodeStrings(read(m, name, keysPtr, keysLen))
	if err != nil {
		return frame.Value{}, "", nil, err
	}
	return id, tag, keys, nil
}

func hostQueryNode(ctx context.Context, m api.Module, idPtr, idLen, tagPtr, tagLen, keysPtr, keysLen uint32) int32 {
	r := enter(ctx, "query_node")
	defer r.leave()
	id, tag, keys, err := nodeQuery(m, "query_node", idPtr, idLen, tagPtr, tagLen, keysPtr, keysLen)
	if err != nil {
		return invalid
	}
	h, err := r.imports.QueryNode(ctx, id, tag, keys)
	if err != nil {
		return code(err)
	}
	return h
}

func hostQueryNeighbors(ctx context.Context, m api.Module, idPtr, idLen, tagPtr, tagLen, keysPtr, keysLen uint32, reversed int32) int32 {
	r := enter(ctx, "query_neighbors")
	defer r.leave()
	id, tag, keys, err := nodeQuery(m, "query_neighbors", idPtr, idLen, tagPtr, tagLen, keysPtr, keysLen)
	if err != nil {
		return invalid
	}
	h, err := r.imports.QueryNeighbors(ctx, id, tag, keys, reversed != 0)
	if err != nil {
		return code(err)
	}
	return h
}

func hostQueryKV(ctx context.Context, m api.Module, rowPtr, rowLen uint32) int32 {
	r := enter(ctx, "query_kv")
	defer r.leave()
	defaults, err := frame.DecodeRow(read(m, "query_kv", rowPtr, rowLen))
	if err != nil {
		return invalid
	}
	h, err := r.imports.QueryKV(ctx, defaults)
	if err != nil {
		return code(err)
	}
	return h
}

func hostUpdateKV(ctx context.Context, m api.Module, rowPtr, rowLen uint32, merge int32) int32 {
	r := enter(ctx, "update_kv")
	defer r.leave()
	items, err := frame.DecodeRow(read(m, "update_kv", rowPtr, rowLen))
	if err != nil || merge < 0 || merge > int32(session.MergeMov) {
		return invalid
	}
	if _, err := r.imports.UpdateKV(ctx, items, session.Merge(merge)); err != nil {
		return code(err)
	}
	return 0
}

// hostFutureGet waits for a future, copies its encoded result into memory
// obtained from the guest allocator and writes (ptr, len) at retPtr.
func hostFutureGet(ctx context.Context, m api.Module, handle int32, retPtr uint32) int32 {
	r := enter(ctx, "future_get")
	defer r.leave()
	buf, err := r.imports.FutureGet(ctx, handle)
	if err != nil {
		return code(err)
	}

	alloc := m.ExportedFunction(exportRealloc)
	if alloc == nil {
		panic(&HostImportError{Import: "future_get", Err: fmt.Errorf("missing export %s", exportRealloc)})
	}
	res, err := alloc.Call(ctx, 0, 0, 1, uint64(len(buf)))
	if err != nil {
		panic(&HostImportError{Import: "future_get", Err: fmt.Errorf("%s: %w", exportRealloc, err)})
	}
	ptr := api.DecodeU32(res[0])

	mem := m.Memory()
	if mem == nil || !mem.Write(ptr, buf) ||
		!mem.WriteUint32Le(retPtr, ptr) ||
		!mem.WriteUint32Le(retPtr+4, uint32(len(buf))) {
		panic(&HostImportError{Import: "future_get", Err: errors.New("write result out of range")})
	}
	return 0
}

func hostFutureDrop(ctx context.Context, handle int32) {
	r := enter(ctx, "future_drop")
	defer r.leave()
	r.imports.FutureDrop(handle)
}
