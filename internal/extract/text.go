package extract

import "context"

// Text reads plain text files as-is.
type Text struct{}

func (Text) Extensions() []string { return []string{".txt", ".text"} }

func (Text) Extract(_ context.Context, path string) (string, error) {
	return readUTF8(path)
}
