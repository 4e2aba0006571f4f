package blob

import (
	"mime"
	"net/http"
	"path"
)

// DetectMimeType определяет тип по расширению, а при неизвестном расширении по содержимому.
func DetectMimeType(fileName string, data []byte) string {
	if ext := path.Ext(fileName); ext != "" {
		if t := mime.TypeByExtension(ext); t != "" {
			return t
		}
	}
	return http.DetectContentType(data)
}
