package service

import (
	"bufio"
	"io"
	"strings"

	"github.com/gabriel-vasile/mimetype"
)

// FileUpload is an incoming file stream with its declared metadata.
type FileUpload struct {
	Name        string
	ContentType string
	Size        int64
	Body        io.Reader
}

// sniffContentType fills in a missing or generic content type from the
// first bytes of the stream without consuming them.
func (f *FileUpload) sniffContentType() {
	declared := mimeBase(strings.ToLower(f.ContentType))
	if declared != "" && declared != "application/octet-stream" {
		f.ContentType = declared
		return
	}
	br := bufio.NewReaderSize(f.Body, 512)
	head, _ := br.Peek(512)
	f.Body = br
	f.ContentType = mimeBase(mimetype.Detect(head).String())
}

func mimeAllowed(allowed []string, contentType string) bool {
	if len(allowed) == 0 {
		return true
	}
	for _, a := range allowed {
		if strings.EqualFold(strings.TrimSpace(a), contentType) {
			return true
		}
	}
	return false
}

func mimeBase(contentType string) string {
	if i := strings.Index(contentType, ";"); i >= 0 {
		contentType = contentType[:i]
	}
	return strings.TrimSpace(contentType)
}
