package psarc

// PackStatus is delivered over a Pack caller's progress channel as the
// worker advances through files. Active is false on the terminal
// message (success or Err set).
type PackStatus struct {
	CurrentFile string
	Progress    float32
	Active      bool
	Err         error
}

// ExtractStatus mirrors PackStatus for Extract.
type ExtractStatus struct {
	CurrentFile string
	Progress    float32
	Active      bool
	Err         error
}

// progressStride returns how many completed items should pass between
// progress updates, at least once per ~1% of total or every 10 items,
// whichever is shorter.
func progressStride(total int) int {
	if total <= 0 {
		return 1
	}
	stride := total / 100
	if stride > 10 {
		stride = 10
	}
	if stride < 1 {
		stride = 1
	}
	return stride
}

func sendPackStatus(ch chan<- PackStatus, s PackStatus) {
	if ch == nil {
		return
	}
	ch <- s
}

func sendExtractStatus(ch chan<- ExtractStatus, s ExtractStatus) {
	if ch == nil {
		return
	}
	ch <- s
}
