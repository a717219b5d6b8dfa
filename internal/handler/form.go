package handler

import (
	"net/http"
	"net/url"

	"github.com/go-viper/mapstructure/v2"

	"github.com/pavelanni/medcode/internal/validate"
)

// decodeForm fills dst from the request's form values by `form` tag.
// Numeric fields accept their text form; an empty value decodes as zero.
func decodeForm(r *http.Request, dst any) error {
	if err := r.ParseForm(); err != nil {
		return &validate.ValidationError{Fields: map[string]string{"form": err.Error()}}
	}
	return decodeValues(r.Form, dst)
}

func decodeValues(vals url.Values, dst any) error {
	in := make(map[string]any, len(vals))
	for k, v := range vals {
		if len(v) == 1 {
			in[k] = v[0]
		} else {
			in[k] = v
		}
	}
	dec, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		TagName:          "form",
		WeaklyTypedInput: true,
		Result:           dst,
	})
	if err != nil {
		return err
	}
	if err := dec.Decode(in); err != nil {
		return &validate.ValidationError{Fields: map[string]string{"form": err.Error()}}
	}
	return nil
}
