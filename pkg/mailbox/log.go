package mailbox

import "github.com/srediag/shmbox/internal/logging"

var internalLogger = logging.New("mailbox", nil)
