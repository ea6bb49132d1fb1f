package httpapi

import (
	"context"
	"fmt"
	"io"
	"mime/multipart"
	"net/textproto"
	"sync"

	"github.com/valyala/fasthttp"
	"github.com/vedran77/pulsesync/internal/repository"
)

const uploadField = "Files"

// Upload streams one file as multipart form data. progress receives
// whole percentages as the body is read; it may be nil.
func (c *Client) Upload(ctx context.Context, file repository.UploadFile, progress func(pct int)) ([]repository.UploadedFile, error) {
	pr, pw := io.Pipe()
	mw := multipart.NewWriter(pw)

	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		pw.CloseWithError(writeForm(mw, file, progress))
	}()

	req := fasthttp.AcquireRequest()
	defer fasthttp.ReleaseRequest(req)
	c.prepare(req, fasthttp.MethodPost, pathUpload)
	req.Header.SetContentType(mw.FormDataContentType())
	req.SetBodyStream(pr, -1)

	var env envelope[[]repository.UploadedFile]
	err := c.do(ctx, req, &env)
	// unblocks the writer if the request ended before the body was drained
	pr.CloseWithError(io.ErrClosedPipe)
	wg.Wait()
	if err != nil {
		return nil, fmt.Errorf("uploading %s: %w", file.Name, err)
	}
	return env.Data, nil
}

func writeForm(mw *multipart.Writer, file repository.UploadFile, progress func(int)) error {
	h := make(textproto.MIMEHeader)
	h.Set("Content-Disposition", fmt.Sprintf(`form-data; name=%q; filename=%q`, uploadField, file.Name))
	if file.ContentType != "" {
		h.Set("Content-Type", file.ContentType)
	} else {
		h.Set("Content-Type", "application/octet-stream")
	}
	part, err := mw.CreatePart(h)
	if err != nil {
		return err
	}
	src := file.Body
	if progress != nil && file.Size > 0 {
		src = &progressReader{r: file.Body, total: file.Size, report: progress}
	}
	if _, err := io.Copy(part, src); err != nil {
		return err
	}
	return mw.Close()
}

// progressReader reports read progress in whole percent, once per change.
type progressReader struct {
	r      io.Reader
	total  int64
	read   int64
	last   int
	report func(int)
}

func (p *progressReader) Read(b []byte) (int, error) {
	n, err := p.r.Read(b)
	p.read += int64(n)
	pct := int(p.read * 100 / p.total)
	if pct > 100 {
		pct = 100
	}
	if pct > p.last {
		p.last = pct
		p.report(pct)
	}
	return n, err
}
