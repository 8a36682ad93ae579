package module

import "sync"

// Document is an owned generation result. The bytes can be taken exactly
// once; afterwards the document is empty and every further Take or Release
// reports [ErrDocumentTaken].
type Document struct {
	mu    sync.Mutex
	data  []byte
	taken bool
}

// NewDocument hands ownership of data to a new Document. The caller must
// not modify data afterwards.
func NewDocument(data []byte) *Document {
	return &Document{data: data}
}

// Take consumes the document and returns its contents.
func (d *Document) Take() ([]byte, error) {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.taken {
		return nil, ErrDocumentTaken
	}
	data := d.data
	d.data = nil
	d.taken = true
	return data, nil
}

// Release discards the document without reading it.
func (d *Document) Release() error {
	_, err := d.Take()
	return err
}

// Taken reports whether the document has been consumed.
func (d *Document) Taken() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.taken
}
