package upload

import (
	"context"
	"fmt"
	"io"
	"sync"

	"github.com/mediahub-io/go-videoupload/upload/network"
)

type fakeEnvRepo struct {
	envVars map[string]string
}

func (repo fakeEnvRepo) Get(key string) string {
	value, ok := repo.envVars[key]
	if ok {
		return value
	}
	return ""
}

func (repo fakeEnvRepo) Set(key, value string) error {
	repo.envVars[key] = value
	return nil
}

func (repo fakeEnvRepo) Unset(key string) error {
	repo.envVars[key] = ""
	return nil
}

func (repo fakeEnvRepo) List() []string {
	envs := []string{}
	for k, v := range repo.envVars {
		envs = append(envs, fmt.Sprintf("%s=%s", k, v))
	}
	return envs
}

type fakeExporter struct {
	mu      sync.Mutex
	outputs map[string]string
}

func newFakeExporter() *fakeExporter {
	return &fakeExporter{outputs: map[string]string{}}
}

func (e *fakeExporter) ExportOutput(key, value string) error {
	e.mu.Lock()
	defer e.mu.Unlock()
	e.outputs[key] = value
	return nil
}

func (e *fakeExporter) ExportOutputFile(key, sourcePath, destinationPath string) error {
	return e.ExportOutput(key, destinationPath)
}

type finalizeCall struct {
	fileName    string
	totalChunks int
}

// fakeAPI records every call of one upload run and can fail or block on demand.
type fakeAPI struct {
	mu sync.Mutex

	prepareCalls   int
	prepareErr     error
	prepareStarted chan struct{}
	prepareRelease chan struct{}

	chunks     map[int][]byte
	ingestErrs map[int]error

	inFlight     int
	inFlightPeak int

	finalizeCalls []finalizeCall
	finalizeErr   error
}

func newFakeAPI() *fakeAPI {
	return &fakeAPI{
		chunks:     map[int][]byte{},
		ingestErrs: map[int]error{},
	}
}

func (f *fakeAPI) PrepareSession(ctx context.Context) error {
	f.mu.Lock()
	f.prepareCalls++
	started := f.prepareStarted
	release := f.prepareRelease
	f.mu.Unlock()

	if started != nil {
		close(started)
		f.mu.Lock()
		f.prepareStarted = nil
		f.mu.Unlock()
	}
	if release != nil {
		<-release
	}
	return f.prepareErr
}

func (f *fakeAPI) IngestChunk(ctx context.Context, index int, chunk io.Reader, size int64) error {
	f.mu.Lock()
	f.inFlight++
	if f.inFlight > f.inFlightPeak {
		f.inFlightPeak = f.inFlight
	}
	f.mu.Unlock()

	defer func() {
		f.mu.Lock()
		f.inFlight--
		f.mu.Unlock()
	}()

	if err := f.ingestErrs[index]; err != nil {
		return err
	}

	data, err := io.ReadAll(chunk)
	if err != nil {
		return err
	}
	if int64(len(data)) != size {
		return fmt.Errorf("chunk %d: declared %d bytes, read %d", index, size, len(data))
	}

	f.mu.Lock()
	f.chunks[index] = data
	f.mu.Unlock()
	return nil
}

func (f *fakeAPI) Finalize(ctx context.Context, fileName string, totalChunks int) (network.FinalizeResponse, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	if f.finalizeErr != nil {
		return network.FinalizeResponse{}, f.finalizeErr
	}
	f.finalizeCalls = append(f.finalizeCalls, finalizeCall{fileName: fileName, totalChunks: totalChunks})
	return network.FinalizeResponse{}, nil
}

func (f *fakeAPI) ingestedChunkCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return len(f.chunks)
}

func (f *fakeAPI) reassemble(totalChunks int) []byte {
	f.mu.Lock()
	defer f.mu.Unlock()

	var data []byte
	for i := 0; i < totalChunks; i++ {
		data = append(data, f.chunks[i]...)
	}
	return data
}

func (f *fakeAPI) peakInFlight() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.inFlightPeak
}
