package activity

// CaptureError runs a hook body and, if it fails, shows the error on the
// activity's status line. The error is returned unchanged so the hook still
// fails.
//
//	func (a *MyActivity) OnStartup(ctx context.Context) error {
//	    return activity.CaptureError(a.actx.Status, func() error {
//	        a.actx.Status.Set("connecting")
//	        return a.connect(ctx)
//	    })
//	}
func CaptureError(status *StatusLine, f func() error) error {
	err := f()
	if err != nil && status != nil {
		status.Set("error: " + err.Error())
	}
	return err
}
