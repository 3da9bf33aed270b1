package middleware

import (
	"bytes"
	"encoding/json"
	"io"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/matedash/authbridge/internal/validation"
	"github.com/matedash/authbridge/pkg/response"
)

// ValuesKey holds the normalized validation.Values of a request.
const ValuesKey = "validated"

const maxBodyBytes = 1 << 20

// ginInput reads validation fields from a gin request.
type ginInput struct {
	c    *gin.Context
	body map[string]interface{}
}

func (in ginInput) Lookup(src validation.Source, name string) (string, bool) {
	switch src {
	case validation.Query:
		return in.c.GetQuery(name)
	case validation.Param:
		return in.c.Params.Get(name)
	default:
		v, ok := in.body[name]
		if !ok {
			return "", false
		}
		return validation.Scalar(v), true
	}
}

// Validate runs schema before the handler. Failures abort with 400
// VALIDATION_FAILED and a field->message map. Normalized string values
// (trimmed, lower-cased emails) are written back into the JSON body so
// handlers bind the cleaned input.
func Validate(schema validation.Schema) gin.HandlerFunc {
	needsBody := false
	for _, f := range schema {
		if f.In == validation.Body {
			needsBody = true
			break
		}
	}
	return func(c *gin.Context) {
		in := ginInput{c: c, body: map[string]interface{}{}}
		if needsBody {
			body, err := readJSONBody(c)
			if err != nil {
				response.Fail(c, response.BadRequest("Request body must be a JSON object"))
				return
			}
			in.body = body
		}

		res := validation.Validate(schema, in)
		if !res.OK() {
			response.Fail(c, response.Validation(res.Errors))
			return
		}

		if needsBody {
			for _, f := range schema {
				if f.In != validation.Body {
					continue
				}
				if _, isString := in.body[f.Name].(string); isString {
					if v, ok := res.Values[f.Name]; ok {
						in.body[f.Name] = v
					}
				}
			}
			b, err := json.Marshal(in.body)
			if err != nil {
				response.Fail(c, response.Internal(err))
				return
			}
			c.Request.Body = io.NopCloser(bytes.NewReader(b))
			c.Request.ContentLength = int64(len(b))
		}
		c.Set(ValuesKey, res.Values)
		c.Next()
	}
}

// Values returns the normalized values stored by Validate.
func Values(c *gin.Context) validation.Values {
	if v, ok := c.Get(ValuesKey); ok {
		if vals, ok := v.(validation.Values); ok {
			return vals
		}
	}
	return validation.Values{}
}

// readJSONBody decodes the request body as a JSON object. An empty body is
// an empty object.
func readJSONBody(c *gin.Context) (map[string]interface{}, error) {
	out := map[string]interface{}{}
	if c.Request.Body == nil {
		return out, nil
	}
	raw, err := io.ReadAll(io.LimitReader(c.Request.Body, maxBodyBytes))
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(raw)) == 0 {
		return out, nil
	}
	dec := json.NewDecoder(strings.NewReader(string(raw)))
	dec.UseNumber()
	if err := dec.Decode(&out); err != nil {
		return nil, err
	}
	return out, nil
}
