package authcore

// runPipeline executes the hook phases around the endpoint handler:
//
//	before hooks (registration order) -> handler -> after hooks (registration order)
//
// A before-hook error skips the handler. The handler's error may be swapped
// for a registered enumeration-safe response before the after phase, so
// hooks observe exactly what the client will receive.
func (e *Engine) runPipeline(rc *RequestContext, ep *Endpoint) (*Response, error) {
	resp, err := e.runBefore(rc)
	if err == nil {
		resp, err = ep.Handler(rc)
	}

	if err != nil {
		if sub := rc.consumeEnumerationResponse(); sub != nil {
			e.metrics.Inc(MetricEnumerationGuarded)
			resp, err = sub, nil
		}
	}

	return e.runAfter(rc, resp, err)
}

func (e *Engine) runBefore(rc *RequestContext) (*Response, error) {
	for i := range e.registry.hooks {
		h := &e.registry.hooks[i]
		if h.Phase != HookBefore || h.Before == nil || !h.matches(rc) {
			continue
		}

		patch, err := h.Before(rc)
		if err != nil {
			return nil, err
		}
		applyPatch(rc, patch)
	}
	return nil, nil
}

func (e *Engine) runAfter(rc *RequestContext, resp *Response, err error) (*Response, error) {
	for i := range e.registry.hooks {
		h := &e.registry.hooks[i]
		if h.Phase != HookAfter || h.After == nil || !h.matches(rc) {
			continue
		}

		replaced, herr := h.After(rc, resp, err)
		if replaced != nil || herr != nil {
			resp, err = replaced, herr
		}
	}
	return resp, err
}

func applyPatch(rc *RequestContext, patch *HookPatch) {
	if patch == nil {
		return
	}
	if patch.Body != nil {
		rc.Body = patch.Body
	}
	for key, value := range patch.Headers {
		rc.SetHeader(key, value)
	}
	if patch.Session != nil {
		rc.Session = patch.Session
	}
}
