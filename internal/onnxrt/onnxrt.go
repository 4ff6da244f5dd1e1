// Package onnxrt provides Go bindings to the ONNX Runtime C API, used by
// internal/engine to load and run the four TDT networks (preprocessor,
// encoder, decoder, joint) that make up the acoustic model.
//
// It follows the usual Env/Session/Tensor shape and CGo helper-function
// pattern for wrapping this C API, extended with file-path model loading
// (the acoustic model ships as files under MODEL_PATH, not as compiled-in
// byte slices) and static input-shape introspection, which internal/feature
// uses for n_mels and internal/engine uses for the decoder's recurrent
// state shapes instead of hardcoding them.
package onnxrt

/*
#include <onnxruntime_c_api.h>
#include <stdlib.h>
#include <string.h>

static const OrtApi* ort_api() {
    return OrtGetApiBase()->GetApi(ORT_API_VERSION);
}

static OrtStatus* ort_create_env(const OrtApi* api, const char* name, OrtEnv** out) {
    return api->CreateEnv(ORT_LOGGING_LEVEL_WARNING, name, out);
}

static OrtStatus* ort_create_session_options(const OrtApi* api, OrtSessionOptions** out) {
    return api->CreateSessionOptions(out);
}

static OrtStatus* ort_create_session_from_file(const OrtApi* api, OrtEnv* env,
    const char* path, OrtSessionOptions* opts, OrtSession** out) {
    return api->CreateSession(env, path, opts, out);
}

static OrtStatus* ort_create_tensor_float(const OrtApi* api, OrtMemoryInfo* info,
    float* data, size_t data_len, int64_t* shape, size_t shape_len, OrtValue** out) {
    return api->CreateTensorWithDataAsOrtValue(info, data, data_len * sizeof(float),
        shape, shape_len, ONNX_TENSOR_ELEMENT_DATA_TYPE_FLOAT, out);
}

static OrtStatus* ort_create_tensor_int64(const OrtApi* api, OrtMemoryInfo* info,
    int64_t* data, size_t data_len, int64_t* shape, size_t shape_len, OrtValue** out) {
    return api->CreateTensorWithDataAsOrtValue(info, data, data_len * sizeof(int64_t),
        shape, shape_len, ONNX_TENSOR_ELEMENT_DATA_TYPE_INT64, out);
}

static OrtStatus* ort_create_cpu_memory_info(const OrtApi* api, OrtMemoryInfo** out) {
    return api->CreateCpuMemoryInfo(OrtArenaAllocator, OrtMemTypeDefault, out);
}

static OrtStatus* ort_run(const OrtApi* api, OrtSession* session,
    const char** input_names, const OrtValue* const* inputs, size_t num_inputs,
    const char** output_names, size_t num_outputs, OrtValue** outputs) {
    return api->Run(session, NULL, input_names, inputs, num_inputs,
        output_names, num_outputs, outputs);
}

static OrtStatus* ort_get_tensor_float_data(const OrtApi* api, OrtValue* value, float** out) {
    return api->GetTensorMutableData(value, (void**)out);
}

static OrtStatus* ort_get_tensor_int64_data(const OrtApi* api, OrtValue* value, int64_t** out) {
    return api->GetTensorMutableData(value, (void**)out);
}

static OrtStatus* ort_get_tensor_shape(const OrtApi* api, OrtValue* value,
    int64_t* shape, size_t shape_len) {
    OrtTensorTypeAndShapeInfo* info;
    OrtStatus* status = api->GetTensorTypeAndShape(value, &info);
    if (status) return status;
    status = api->GetDimensions(info, shape, shape_len);
    api->ReleaseTensorTypeAndShapeInfo(info);
    return status;
}

static OrtStatus* ort_get_tensor_ndim(const OrtApi* api, OrtValue* value, size_t* ndim) {
    OrtTensorTypeAndShapeInfo* info;
    OrtStatus* status = api->GetTensorTypeAndShape(value, &info);
    if (status) return status;
    status = api->GetDimensionsCount(info, ndim);
    api->ReleaseTensorTypeAndShapeInfo(info);
    return status;
}

static OrtStatus* ort_get_input_count(const OrtApi* api, OrtSession* s, size_t* out) {
    return api->SessionGetInputCount(s, out);
}

static OrtStatus* ort_get_output_count(const OrtApi* api, OrtSession* s, size_t* out) {
    return api->SessionGetOutputCount(s, out);
}

static OrtStatus* ort_get_input_name(const OrtApi* api, OrtSession* s, size_t idx,
    OrtAllocator* alloc, char** out) {
    return api->SessionGetInputName(s, idx, alloc, out);
}

static OrtStatus* ort_get_output_name(const OrtApi* api, OrtSession* s, size_t idx,
    OrtAllocator* alloc, char** out) {
    return api->SessionGetOutputName(s, idx, alloc, out);
}

static OrtStatus* ort_get_allocator(const OrtApi* api, OrtAllocator** out) {
    return api->GetAllocatorWithDefaultOptions(out);
}

static OrtStatus* ort_get_input_shape(const OrtApi* api, OrtSession* s, size_t idx,
    int64_t* shape, size_t shape_len, size_t* ndim_out) {
    OrtTypeInfo* typeInfo;
    OrtStatus* status = api->SessionGetInputTypeInfo(s, idx, &typeInfo);
    if (status) return status;
    const OrtTensorTypeAndShapeInfo* info;
    status = api->CastTypeInfoToTensorInfo(typeInfo, &info);
    if (status) { api->ReleaseTypeInfo(typeInfo); return status; }
    size_t ndim;
    status = api->GetDimensionsCount(info, &ndim);
    if (status) { api->ReleaseTypeInfo(typeInfo); return status; }
    *ndim_out = ndim;
    if (ndim > 0 && shape_len >= ndim) {
        status = api->GetDimensions(info, shape, ndim);
    }
    api->ReleaseTypeInfo(typeInfo);
    return status;
}

static void ort_release_env(const OrtApi* api, OrtEnv* env) { api->ReleaseEnv(env); }
static void ort_release_session(const OrtApi* api, OrtSession* s) { api->ReleaseSession(s); }
static void ort_release_session_options(const OrtApi* api, OrtSessionOptions* o) { api->ReleaseSessionOptions(o); }
static void ort_release_memory_info(const OrtApi* api, OrtMemoryInfo* i) { api->ReleaseMemoryInfo(i); }
static void ort_release_value(const OrtApi* api, OrtValue* v) { api->ReleaseValue(v); }
static const char* ort_error_message(const OrtApi* api, OrtStatus* status) { return api->GetErrorMessage(status); }
static void ort_release_status(const OrtApi* api, OrtStatus* status) { api->ReleaseStatus(status); }
*/
import "C"

import (
	"fmt"
	"runtime"
	"unsafe"
)

func api() *C.OrtApi {
	return C.ort_api()
}

func checkStatus(status *C.OrtStatus) error {
	if status == nil {
		return nil
	}
	msg := C.GoString(C.ort_error_message(api(), status))
	C.ort_release_status(api(), status)
	return fmt.Errorf("onnxrt: %s", msg)
}

// Env is the ONNX Runtime environment. One is shared by all four networks
// the acoustic engine loads.
type Env struct {
	env *C.OrtEnv
}

// NewEnv creates a new ONNX Runtime environment.
func NewEnv(name string) (*Env, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	var env *C.OrtEnv
	if err := checkStatus(C.ort_create_env(api(), cName, &env)); err != nil {
		return nil, err
	}

	e := &Env{env: env}
	runtime.SetFinalizer(e, (*Env).Close)
	return e, nil
}

// NewSessionFromFile loads a .onnx model from disk.
func (e *Env) NewSessionFromFile(path string) (*Session, error) {
	cPath := C.CString(path)
	defer C.free(unsafe.Pointer(cPath))

	var opts *C.OrtSessionOptions
	if err := checkStatus(C.ort_create_session_options(api(), &opts)); err != nil {
		return nil, err
	}
	defer C.ort_release_session_options(api(), opts)

	var session *C.OrtSession
	if err := checkStatus(C.ort_create_session_from_file(api(), e.env, cPath, opts, &session)); err != nil {
		return nil, fmt.Errorf("load %s: %w", path, err)
	}

	s := &Session{session: session}
	runtime.SetFinalizer(s, (*Session).Close)
	return s, nil
}

// Close releases the environment.
func (e *Env) Close() error {
	if e.env != nil {
		C.ort_release_env(api(), e.env)
		e.env = nil
		runtime.SetFinalizer(e, nil)
	}
	return nil
}

// Session holds one loaded ONNX model.
type Session struct {
	session *C.OrtSession
}

// Run executes inference. The caller must close each returned Tensor.
func (s *Session) Run(inputNames []string, inputs []*Tensor, outputNames []string) ([]*Tensor, error) {
	if len(inputNames) != len(inputs) {
		return nil, fmt.Errorf("onnxrt: input names/tensors length mismatch: %d vs %d", len(inputNames), len(inputs))
	}

	cInputNames := make([]*C.char, len(inputNames))
	for i, name := range inputNames {
		cInputNames[i] = C.CString(name)
		defer C.free(unsafe.Pointer(cInputNames[i]))
	}

	cInputs := make([]*C.OrtValue, len(inputs))
	for i, t := range inputs {
		cInputs[i] = t.value
	}

	cOutputNames := make([]*C.char, len(outputNames))
	for i, name := range outputNames {
		cOutputNames[i] = C.CString(name)
		defer C.free(unsafe.Pointer(cOutputNames[i]))
	}

	cOutputs := make([]*C.OrtValue, len(outputNames))

	status := C.ort_run(api(), s.session,
		&cInputNames[0], &cInputs[0], C.size_t(len(inputs)),
		&cOutputNames[0], C.size_t(len(outputNames)), &cOutputs[0],
	)
	if err := checkStatus(status); err != nil {
		return nil, err
	}

	outputs := make([]*Tensor, len(outputNames))
	for i, val := range cOutputs {
		outputs[i] = &Tensor{value: val, owned: true}
		runtime.SetFinalizer(outputs[i], (*Tensor).Close)
	}
	return outputs, nil
}

// InputCount returns the number of inputs the session declares.
func (s *Session) InputCount() (int, error) {
	var count C.size_t
	if err := checkStatus(C.ort_get_input_count(api(), s.session, &count)); err != nil {
		return 0, err
	}
	return int(count), nil
}

// InputShape returns the static dimensions declared for input idx.
// Dynamic axes (batch, time) come back as -1; callers treat any
// positive axis as authoritative (used to read n_mels off the
// preprocessor's input and the decoder's recurrent state shapes).
func (s *Session) InputShape(idx int) ([]int64, error) {
	var ndim C.size_t
	shapeBuf := make([]C.int64_t, 8)
	if err := checkStatus(C.ort_get_input_shape(api(), s.session, C.size_t(idx),
		&shapeBuf[0], C.size_t(len(shapeBuf)), &ndim)); err != nil {
		return nil, err
	}
	shape := make([]int64, int(ndim))
	for i := 0; i < int(ndim); i++ {
		shape[i] = int64(shapeBuf[i])
	}
	return shape, nil
}

// Close releases the session.
func (s *Session) Close() error {
	if s.session != nil {
		C.ort_release_session(api(), s.session)
		s.session = nil
		runtime.SetFinalizer(s, nil)
	}
	return nil
}

// Tensor is an N-dimensional ONNX Runtime value.
type Tensor struct {
	value  *C.OrtValue
	pinned any
	owned  bool
}

// NewFloatTensor creates a float32 tensor with the given shape. The data
// slice must remain valid for the lifetime of the Tensor.
func NewFloatTensor(shape []int64, data []float32) (*Tensor, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("onnxrt: empty tensor data")
	}

	var memInfo *C.OrtMemoryInfo
	if err := checkStatus(C.ort_create_cpu_memory_info(api(), &memInfo)); err != nil {
		return nil, err
	}
	defer C.ort_release_memory_info(api(), memInfo)

	var value *C.OrtValue
	if err := checkStatus(C.ort_create_tensor_float(
		api(), memInfo,
		(*C.float)(unsafe.Pointer(&data[0])), C.size_t(len(data)),
		(*C.int64_t)(unsafe.Pointer(&shape[0])), C.size_t(len(shape)),
		&value,
	)); err != nil {
		return nil, err
	}

	t := &Tensor{value: value, pinned: data, owned: true}
	runtime.SetFinalizer(t, (*Tensor).Close)
	return t, nil
}

// NewInt64Tensor creates an int64 tensor, used for the decoder's token
// input and the preprocessor/encoder length inputs.
func NewInt64Tensor(shape []int64, data []int64) (*Tensor, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("onnxrt: empty tensor data")
	}

	var memInfo *C.OrtMemoryInfo
	if err := checkStatus(C.ort_create_cpu_memory_info(api(), &memInfo)); err != nil {
		return nil, err
	}
	defer C.ort_release_memory_info(api(), memInfo)

	var value *C.OrtValue
	if err := checkStatus(C.ort_create_tensor_int64(
		api(), memInfo,
		(*C.int64_t)(unsafe.Pointer(&data[0])), C.size_t(len(data)),
		(*C.int64_t)(unsafe.Pointer(&shape[0])), C.size_t(len(shape)),
		&value,
	)); err != nil {
		return nil, err
	}

	t := &Tensor{value: value, pinned: data, owned: true}
	runtime.SetFinalizer(t, (*Tensor).Close)
	return t, nil
}

// FloatData copies the tensor's data into a new float32 slice.
func (t *Tensor) FloatData() ([]float32, error) {
	var ptr *C.float
	if err := checkStatus(C.ort_get_tensor_float_data(api(), t.value, &ptr)); err != nil {
		return nil, err
	}
	total, err := t.elementCount()
	if err != nil {
		return nil, err
	}
	if total <= 0 {
		return nil, nil
	}
	out := make([]float32, total)
	C.memcpy(unsafe.Pointer(&out[0]), unsafe.Pointer(ptr), C.size_t(total*4))
	return out, nil
}

// Int64Data copies the tensor's data into a new int64 slice.
func (t *Tensor) Int64Data() ([]int64, error) {
	var ptr *C.int64_t
	if err := checkStatus(C.ort_get_tensor_int64_data(api(), t.value, &ptr)); err != nil {
		return nil, err
	}
	total, err := t.elementCount()
	if err != nil {
		return nil, err
	}
	if total <= 0 {
		return nil, nil
	}
	out := make([]int64, total)
	C.memcpy(unsafe.Pointer(&out[0]), unsafe.Pointer(ptr), C.size_t(total*8))
	return out, nil
}

// Shape returns the tensor's dimensions.
func (t *Tensor) Shape() ([]int64, error) {
	var ndim C.size_t
	if err := checkStatus(C.ort_get_tensor_ndim(api(), t.value, &ndim)); err != nil {
		return nil, err
	}
	if ndim == 0 {
		return nil, nil
	}
	shape := make([]int64, int(ndim))
	if err := checkStatus(C.ort_get_tensor_shape(api(), t.value, (*C.int64_t)(unsafe.Pointer(&shape[0])), ndim)); err != nil {
		return nil, err
	}
	return shape, nil
}

func (t *Tensor) elementCount() (int, error) {
	shape, err := t.Shape()
	if err != nil {
		return 0, err
	}
	total := 1
	for _, d := range shape {
		total *= int(d)
	}
	return total, nil
}

// Close releases the tensor.
func (t *Tensor) Close() error {
	if t.value != nil && t.owned {
		C.ort_release_value(api(), t.value)
		t.value = nil
		runtime.SetFinalizer(t, nil)
	}
	return nil
}
