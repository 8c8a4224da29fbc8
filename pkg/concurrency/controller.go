package concurrency

// Controller bundles the three concurrency structures the pipeline
// orchestrator needs: the claim set, the edition mutex map, and the
// handler semaphore.
type Controller struct {
	Claims   *ClaimSet
	Editions *EditionMutexMap
	Handlers *HandlerSemaphore
}

// NewController builds a Controller with a handler semaphore bounded at
// handlerLimit (DefaultHandlerLimit if non-positive).
func NewController(handlerLimit int) *Controller {
	return &Controller{
		Claims:   NewClaimSet(),
		Editions: NewEditionMutexMap(),
		Handlers: NewHandlerSemaphore(handlerLimit),
	}
}
