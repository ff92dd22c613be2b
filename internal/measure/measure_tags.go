///////////////////////////////////////////////////////////////////////////////
// Copyright © 2020 xx network SEZC                                          //
//                                                                           //
// Use of this source code is governed by a license that can be found in the //
// LICENSE file                                                              //
///////////////////////////////////////////////////////////////////////////////

package measure

// measure_tags.go contains the string constants for our measure tags

// Constants for Tag strings used by Measure()
const (
	TagStepOpened   = "Step Opened"
	TagStepRunning  = "Step Running"
	TagEnterRelease = "Enter Write Barrier Released"
	TagExitRelease  = "Exit Write Barrier Released"
	TagStepFailed   = "Step Failed"
	TagReportBuilt  = "Report Built"
)
