package mwapi

import (
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"reflect"
	"strconv"
	"strings"

	"github.com/google/go-querystring/query"
)

// Params is the plain parameter set: one UTF-8 value per field.
// Multi-valued MediaWiki fields are joined with "|".
type Params map[string]string

// Encode renders p as a query string with keys in sorted order.
func (p Params) Encode() string {
	v := url.Values{}
	for k, val := range p {
		v.Set(k, val)
	}
	return v.Encode()
}

type File struct {
	Filename    string
	ContentType string
	Reader      io.Reader
}

// fileField holds the file contents read once, so a retried request sends them again.
type fileField struct {
	Field string
	File  File
	data  []byte
}

type normalizedParams struct {
	Values url.Values
	Files  []fileField
}

func normalizeParams(p any) (normalizedParams, error) {
	var np normalizedParams
	np.Values = url.Values{}

	switch v := p.(type) {
	case nil:
		// nothing
	case url.Values:
		for k, vs := range v {
			if len(vs) == 0 {
				continue
			}
			// For MW, repeated fields are usually represented by |.
			np.Values.Set(k, strings.Join(vs, "|"))
		}
	case Params:
		for k, val := range v {
			np.Values.Set(k, val)
		}
	case map[string]string:
		for k, val := range v {
			np.Values.Set(k, val)
		}
	case map[string]any:
		for k, val := range v {
			if err := addAny(&np, k, val); err != nil {
				return normalizedParams{}, err
			}
		}
	default:
		rv := reflect.ValueOf(p)
		if rv.Kind() == reflect.Pointer {
			if rv.IsNil() {
				break
			}
			rv = rv.Elem()
		}
		if rv.Kind() == reflect.Struct {
			values, err := query.Values(p)
			if err != nil {
				return normalizedParams{}, err
			}
			for k, vs := range values {
				if len(vs) == 0 {
					continue
				}
				np.Values.Set(k, strings.Join(vs, "|"))
			}
		} else {
			return normalizedParams{}, fmt.Errorf("unsupported params type: %T", p)
		}
	}

	setDefaultIfMissing(np.Values, "action", "query")
	setDefaultIfMissing(np.Values, "format", "json")
	setDefaultIfMissing(np.Values, "formatversion", "2")
	setDefaultIfMissing(np.Values, "errorformat", "plaintext")

	return np, nil
}

func (np normalizedParams) clone() normalizedParams {
	out := normalizedParams{Values: make(url.Values, len(np.Values)), Files: np.Files}
	for k, vs := range np.Values {
		out.Values[k] = append([]string(nil), vs...)
	}
	return out
}

// withContinuation returns a copy with the server's continuation values set.
func (np normalizedParams) withContinuation(cont ContinuationState) normalizedParams {
	out := np.clone()
	for k, v := range cont {
		out.Values.Set(k, v)
	}
	return out
}

func (np normalizedParams) isEditQuery(method string) bool {
	return method == http.MethodPost && np.Values.Get("token") != ""
}

func addFile(np *normalizedParams, key string, f File) error {
	var data []byte
	if f.Reader != nil {
		b, err := io.ReadAll(f.Reader)
		if err != nil {
			return fmt.Errorf("read file field %q: %w", key, err)
		}
		data = b
	}
	np.Files = append(np.Files, fileField{Field: key, File: f, data: data})
	return nil
}

func setDefaultIfMissing(v url.Values, key, value string) {
	if v.Get(key) == "" {
		v.Set(key, value)
	}
}

func addAny(np *normalizedParams, key string, val any) error {
	if val == nil {
		return nil
	}

	switch x := val.(type) {
	case string:
		np.Values.Set(key, x)
		return nil
	case []byte:
		np.Files = append(np.Files, fileField{
			Field: key,
			File:  File{Filename: key},
			data:  x,
		})
		return nil
	case File:
		return addFile(np, key, x)
	case *File:
		if x == nil {
			return nil
		}
		return addFile(np, key, *x)
	case io.Reader:
		filename := key
		if f, ok := x.(*os.File); ok && f != nil {
			if name := f.Name(); name != "" {
				filename = name
			}
		}
		return addFile(np, key, File{Filename: filename, Reader: x})
	case bool:
		if x {
			np.Values.Set(key, "1")
		}
		return nil
	case []string:
		if len(x) == 0 {
			return nil
		}
		np.Values.Set(key, strings.Join(x, "|"))
		return nil
	case []any:
		if len(x) == 0 {
			return nil
		}
		parts := make([]string, 0, len(x))
		for _, it := range x {
			if it == nil {
				continue
			}
			parts = append(parts, fmt.Sprint(it))
		}
		if len(parts) > 0 {
			np.Values.Set(key, strings.Join(parts, "|"))
		}
		return nil
	case fmt.Stringer:
		np.Values.Set(key, x.String())
		return nil
	case int:
		np.Values.Set(key, strconv.Itoa(x))
		return nil
	case int64:
		np.Values.Set(key, strconv.FormatInt(x, 10))
		return nil
	case float64:
		np.Values.Set(key, strconv.FormatFloat(x, 'f', -1, 64))
		return nil
	default:
		rv := reflect.ValueOf(val)
		switch rv.Kind() {
		case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
			np.Values.Set(key, strconv.FormatInt(rv.Int(), 10))
			return nil
		case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64, reflect.Uintptr:
			np.Values.Set(key, strconv.FormatUint(rv.Uint(), 10))
			return nil
		case reflect.Float32, reflect.Float64:
			np.Values.Set(key, strconv.FormatFloat(rv.Float(), 'f', -1, 64))
			return nil
		case reflect.Slice, reflect.Array:
			parts := make([]string, 0, rv.Len())
			for i := 0; i < rv.Len(); i++ {
				parts = append(parts, fmt.Sprint(rv.Index(i).Interface()))
			}
			if len(parts) > 0 {
				np.Values.Set(key, strings.Join(parts, "|"))
			}
			return nil
		default:
			np.Values.Set(key, fmt.Sprint(val))
			return nil
		}
	}
}
