package journal

import "errors"

// Multi writes every entry to each sink in order.
type Multi []Journal

func (m Multi) Record(e Entry) error {
	var errs []error
	for _, j := range m {
		if err := j.Record(e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

func (m Multi) Close() error {
	var errs []error
	for _, j := range m {
		if err := j.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
