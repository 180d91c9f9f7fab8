// Package output implements the capture pipeline for one instance's
// stdout and stderr.
//
// A StreamReader per pipe decodes bytes tolerantly and splits them into
// lines. Each line is classified (error, warning, success, info, debug) and
// appended to the instance's Buffer, and optionally to its Logfile.
//
// The Buffer is bounded: once it holds more than the display cap it drops
// the oldest half and inserts a single "previous output cleared" marker.
// Callers never see the live slice. They read copies through Since
// (incremental, cursor based), View (newest lines) or Export.
//
// A Filter is evaluated at read time and never stored on a line, so
// changing it re-filters everything still buffered.
//
//	buf := output.NewBuffer(output.BufferConfig{})
//	var f output.Filter
//	f.SetErrorsOnly(true)
//	page := buf.Since(0, &f)
//	for _, l := range page.Lines {
//	    if l.Displayable {
//	        fmt.Println(l.Text)
//	    }
//	}
package output
