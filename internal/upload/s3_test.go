package upload

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"sync"
	"testing"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/s3"
	s3types "github.com/aws/aws-sdk-go-v2/service/s3/types"
)

type fakeS3 struct {
	mu        sync.Mutex
	parts     map[string]map[int32][]byte
	objects   map[string][]byte
	uploads   int
	pageSize  int
	listCalls int
}

func newFakeS3() *fakeS3 {
	return &fakeS3{parts: map[string]map[int32][]byte{}, objects: map[string][]byte{}, pageSize: 2}
}

func (f *fakeS3) CreateMultipartUpload(_ context.Context, in *s3.CreateMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CreateMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.uploads++
	id := fmt.Sprintf("mpu-%d", f.uploads)
	f.parts[id] = map[int32][]byte{}
	return &s3.CreateMultipartUploadOutput{UploadId: aws.String(id), Key: in.Key}, nil
}

func (f *fakeS3) UploadPart(_ context.Context, in *s3.UploadPartInput, _ ...func(*s3.Options)) (*s3.UploadPartOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.parts[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &s3types.NoSuchUpload{}
	}
	body, _ := io.ReadAll(in.Body)
	parts[aws.ToInt32(in.PartNumber)] = body
	return &s3.UploadPartOutput{ETag: aws.String(fmt.Sprintf("etag-%d", aws.ToInt32(in.PartNumber)))}, nil
}

func (f *fakeS3) ListParts(_ context.Context, in *s3.ListPartsInput, _ ...func(*s3.Options)) (*s3.ListPartsOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.listCalls++
	parts, ok := f.parts[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &s3types.NoSuchUpload{}
	}
	nums := make([]int, 0, len(parts))
	for n := range parts {
		nums = append(nums, int(n))
	}
	sort.Ints(nums)
	marker := 0
	if in.PartNumberMarker != nil {
		fmt.Sscanf(aws.ToString(in.PartNumberMarker), "%d", &marker)
	}
	out := &s3.ListPartsOutput{}
	for _, n := range nums {
		if n <= marker {
			continue
		}
		if len(out.Parts) == f.pageSize {
			out.IsTruncated = aws.Bool(true)
			out.NextPartNumberMarker = aws.String(fmt.Sprint(aws.ToInt32(out.Parts[len(out.Parts)-1].PartNumber)))
			break
		}
		out.Parts = append(out.Parts, s3types.Part{
			PartNumber: aws.Int32(int32(n)),
			Size:       aws.Int64(int64(len(parts[int32(n)]))),
			ETag:       aws.String(fmt.Sprintf("etag-%d", n)),
		})
	}
	return out, nil
}

func (f *fakeS3) CompleteMultipartUpload(_ context.Context, in *s3.CompleteMultipartUploadInput, _ ...func(*s3.Options)) (*s3.CompleteMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	parts, ok := f.parts[aws.ToString(in.UploadId)]
	if !ok {
		return nil, &s3types.NoSuchUpload{}
	}
	var buf bytes.Buffer
	for _, p := range in.MultipartUpload.Parts {
		buf.Write(parts[aws.ToInt32(p.PartNumber)])
	}
	f.objects[aws.ToString(in.Key)] = buf.Bytes()
	delete(f.parts, aws.ToString(in.UploadId))
	return &s3.CompleteMultipartUploadOutput{}, nil
}

func (f *fakeS3) AbortMultipartUpload(_ context.Context, in *s3.AbortMultipartUploadInput, _ ...func(*s3.Options)) (*s3.AbortMultipartUploadOutput, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if _, ok := f.parts[aws.ToString(in.UploadId)]; !ok {
		return nil, &s3types.NoSuchUpload{}
	}
	delete(f.parts, aws.ToString(in.UploadId))
	return &s3.AbortMultipartUploadOutput{}, nil
}

func TestS3EndpointMultipartRoundTrip(t *testing.T) {
	api := newFakeS3()
	ep, err := NewS3Endpoint(api, "audio", 4)
	if err != nil {
		t.Fatalf("NewS3Endpoint: %v", err)
	}
	f := testFile(19)
	c := NewClient(nil, ep, NewMemoryStore(), Config{ChunkSize: 4, Sleep: (&sleepRecorder{}).sleep})
	if _, err := c.Upload(context.Background(), f, "k/1.wav", nil); err != nil {
		t.Fatalf("Upload: %v", err)
	}
	if !bytes.Equal(api.objects["k/1.wav"], f.Data) {
		t.Fatalf("object bytes differ")
	}
	if api.listCalls < 3 {
		t.Fatalf("want paginated ListParts on finish, calls=%d", api.listCalls)
	}
}

func TestS3EndpointOffsetCountsContiguousParts(t *testing.T) {
	api := newFakeS3()
	ep, _ := NewS3Endpoint(api, "audio", 4)
	ctx := context.Background()
	tgt := Target{ObjectName: "k", Size: 12}
	tok, _ := ep.Create(ctx, tgt)
	api.parts[tok][1] = []byte("aaaa")
	api.parts[tok][3] = []byte("cccc")

	off, err := ep.Offset(ctx, tok, tgt)
	if err != nil || off != 4 {
		t.Fatalf("Offset: want=4 got=%d err=%v", off, err)
	}
	if _, err := ep.PutChunk(ctx, tok, tgt, 3, []byte("x")); err == nil {
		t.Fatalf("PutChunk off-boundary: want error")
	}
}

func TestS3EndpointMissingUploadMapsToSessionNotFound(t *testing.T) {
	ep, _ := NewS3Endpoint(newFakeS3(), "audio", 4)
	_, err := ep.Offset(context.Background(), "nope", Target{ObjectName: "k", Size: 4})
	if !errors.Is(err, ErrSessionNotFound) {
		t.Fatalf("want ErrSessionNotFound, got %v", err)
	}
	if err := ep.Abort(context.Background(), "nope", Target{ObjectName: "k"}); err != nil {
		t.Fatalf("Abort missing upload: want nil got %v", err)
	}
}
